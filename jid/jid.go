// Package jid implements the Jabber Identifier (JID) address format used
// throughout XMPP: localpart@domainpart/resourcepart.
package jid

import (
	"encoding/xml"
	"errors"
	"regexp"
	"strings"
)

// localDomainForbidden is the set of characters forbidden in a localpart or
// domainpart: angle brackets, quotes, whitespace, '@' and '/' (spec §3).
const localDomainForbidden = `<>'" @/` + "\t\n\r"

// resourceForbidden is the set of characters forbidden in a resourcepart.
// Unlike the localpart and domainpart, the resourcepart is simply
// "everything after the first slash" (bare_of strips at the first slash
// only), so '@' and '/' remain legal there; only markup-breaking and
// whitespace characters are excluded.
const resourceForbidden = `<>'" ` + "\t\n\r"

var (
	// fullPattern distinguishes full JIDs (with a resourcepart) from bare
	// ones at a glance.
	fullPattern = regexp.MustCompile(`^[^/]+/.+$`)
	// barePattern matches a JID with no resourcepart.
	barePattern = regexp.MustCompile(`^[^/]+$`)
)

// ErrInvalid is returned when a string is not a syntactically valid JID.
var ErrInvalid = errors.New("jid: invalid address")

// JID is a structured XMPP address.
//
// The zero value is not a valid JID; use Parse or MustParse to construct
// one.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse parses s as a JID. It fails if any part contains angle brackets,
// quotes or whitespace, or if the localpart or domainpart contains '@' or
// '/' other than as a separator; the resourcepart may contain '@' and '/'.
func Parse(s string) (JID, error) {
	if s == "" {
		return JID{}, ErrInvalid
	}

	rest := s
	var resource string
	if i := strings.IndexByte(s, '/'); i >= 0 {
		rest, resource = s[:i], s[i+1:]
		if resource == "" {
			return JID{}, ErrInvalid
		}
	}

	local, domain := "", rest
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		local, domain = rest[:i], rest[i+1:]
		if local == "" {
			return JID{}, ErrInvalid
		}
	}
	if domain == "" {
		return JID{}, ErrInvalid
	}
	if strings.ContainsAny(local, localDomainForbidden) ||
		strings.ContainsAny(domain, localDomainForbidden) ||
		strings.ContainsAny(resource, resourceForbidden) {
		return JID{}, ErrInvalid
	}
	return JID{local: local, domain: domain, resource: resource}, nil
}

// MustParse is like Parse but panics on error. Intended for use with
// constants.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic("jid: " + err.Error())
	}
	return j
}

// IsBare reports whether s is syntactically a bare JID (no resourcepart).
func IsBare(s string) bool {
	return barePattern.MatchString(s)
}

// Localpart returns the localpart of the JID, or the empty string if none.
func (j JID) Localpart() string { return j.local }

// Domainpart returns the domainpart of the JID.
func (j JID) Domainpart() string { return j.domain }

// Resourcepart returns the resourcepart of the JID, or the empty string if
// none.
func (j JID) Resourcepart() string { return j.resource }

// Bare returns bare_of(j): the JID with any resourcepart stripped.
//
// bare_of is idempotent: Bare().Bare() == Bare().
func (j JID) Bare() JID {
	if j.resource == "" {
		return j
	}
	j.resource = ""
	return j
}

// WithResource returns a copy of j with the resourcepart replaced.
func (j JID) WithResource(resource string) JID {
	j.resource = resource
	return j
}

// Equal reports whether j and other are the same JID.
func (j JID) Equal(other JID) bool {
	return j.local == other.local && j.domain == other.domain && j.resource == other.resource
}

// IsZero reports whether j is the zero JID.
func (j JID) IsZero() bool {
	return j.local == "" && j.domain == "" && j.resource == ""
}

// String formats the JID as localpart@domainpart/resourcepart, omitting
// empty parts. Parsing String's output reproduces the original JID (P7).
func (j JID) String() string {
	var b strings.Builder
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// MarshalXMLAttr implements xml.MarshalerAttr.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

package stanza

import (
	"encoding/xml"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"
	"strata.im/xmpp/internal/ns"
)

// ErrorType is the type attribute of a stanza <error/> element (RFC 6120
// §8.3.2).
type ErrorType string

// Stanza error types.
const (
	Cancel   ErrorType = "cancel"
	Continue ErrorType = "continue"
	Modify   ErrorType = "modify"
	Auth     ErrorType = "auth"
	Wait     ErrorType = "wait"
)

// Condition is a stanza error condition defined by RFC 6120 §8.3.3.
type Condition string

// Stanza error conditions.
const (
	BadRequest            Condition = "bad-request"
	StanzaConflict        Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	StanzaNotAuthorized   Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// Error is a stanza-level <error/> payload. It implements the error
// interface so that it can be returned directly from a mux handler (C3); the
// dispatcher (C8) serializes any returned Error into an iq-error reply with
// the type and element copied verbatim (spec §4.8).
type Error struct {
	Type      ErrorType
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return string(e.Condition)
}

// TokenReader encodes the stanza error as an <error/> element suitable for
// inclusion inside an error-typed iq, message or presence.
func (e Error) TokenReader() xml.TokenReader {
	condStart := xml.StartElement{Name: xml.Name{Space: ns.Stanzas, Local: string(e.Condition)}}
	readers := []xml.TokenReader{xmlstream.Wrap(nil, condStart)}
	if e.Text != "" {
		textStart := xml.StartElement{Name: xml.Name{Space: ns.Stanzas, Local: "text"}}
		if tag := e.Lang.String(); tag != "" && tag != "und" {
			textStart.Attr = append(textStart.Attr, xml.Attr{Name: xml.Name{Local: "lang", Space: "xml"}, Value: tag})
		}
		readers = append(readers, xmlstream.Wrap(xmlstream.Token(xml.CharData(e.Text)), textStart))
	}
	start := xml.StartElement{
		Name: xml.Name{Local: "error"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: string(e.Type)}},
	}
	return xmlstream.Wrap(xmlstream.MultiReader(readers...), start)
}

// UnmarshalError reads a stanza <error/> element.
func UnmarshalError(d *xml.Decoder, start xml.StartElement) (Error, error) {
	var raw struct {
		XMLName xml.Name
		Type    string `xml:"type,attr"`
		Cond    struct {
			XMLName xml.Name
		} `xml:",any"`
		Text string `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return Error{}, err
	}
	return Error{
		Type:      ErrorType(raw.Type),
		Condition: Condition(raw.Cond.XMLName.Local),
		Text:      raw.Text,
	}, nil
}

// classified errors every caller-facing API may encounter synthesized
// locally rather than received from the wire (spec §4.4, §7).
var (
	// ErrRecipientUnavailable is synthesized by the pending-request table
	// (C4) when an IQ's retry budget is exhausted without a response.
	ErrRecipientUnavailable = Error{Type: Cancel, Condition: RecipientUnavailable}
)

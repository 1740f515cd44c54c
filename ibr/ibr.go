// Package ibr implements XEP-0077 In-Band Registration over the older (and
// still widely deployed) jabber:iq:register namespace: fetching the
// provider's registration form and submitting it. Spec §4.6 calls for
// falling back to in-band registration when SASL authentication fails and
// the server advertised <register/> during stream feature negotiation, and
// the caller opted in (Options.AllowRegistration).
//
// Grounded on the teacher's ibr2 package's shape (a form-fetch-then-submit
// round trip keyed by a query/result IQ pair) but adapted to the simpler
// single-form jabber:iq:register flow rather than ibr2's newer
// urn:xmpp:register:0 challenge negotiation, since spec §6 explicitly cites
// XEP-0077.
package ibr

import (
	"encoding/xml"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

// NS is the jabber:iq:register namespace.
const NS = "jabber:iq:register"

// Form is the provider's advertised registration fields (XEP-0077 §2.2).
type Form struct {
	Instructions string
	Registered   bool
	Username     bool
	Password     bool
	EMail        bool
}

// Submission is the registration data submitted back to the provider.
type Submission struct {
	Username string
	Password string
	EMail    string
}

type formXML struct {
	Instructions string    `xml:"instructions"`
	Registered   *struct{} `xml:"registered"`
	Username     *struct{} `xml:"username"`
	Password     *struct{} `xml:"password"`
	EMail        *struct{} `xml:"email"`
}

func emptyBody() string {
	return "<query xmlns='" + NS + "'></query>"
}

func submissionBody(s Submission) string {
	body := "<query xmlns='" + NS + "'>"
	if s.Username != "" {
		body += "<username>" + escape(s.Username) + "</username>"
	}
	if s.Password != "" {
		body += "<password>" + escape(s.Password) + "</password>"
	}
	if s.EMail != "" {
		body += "<email>" + escape(s.EMail) + "</email>"
	}
	body += "</query>"
	return body
}

func escape(s string) string {
	var buf []byte
	for _, r := range s {
		switch r {
		case '<':
			buf = append(buf, "&lt;"...)
		case '>':
			buf = append(buf, "&gt;"...)
		case '&':
			buf = append(buf, "&amp;"...)
		default:
			buf = append(buf, string(r)...)
		}
	}
	return string(buf)
}

// FormQueryBody returns the bare jabber:iq:register query body for
// requesting a form, for a caller (e.g. ChangePassword) that drives the IQ
// itself rather than going through GetForm/EncodeFormRequest.
func FormQueryBody() string { return emptyBody() }

// SubmissionQueryBody returns the jabber:iq:register query body submitting
// s, for the same direct-IQ use case FormQueryBody serves.
func SubmissionQueryBody(s Submission) string { return submissionBody(s) }

// EncodeFormRequest builds the wire text of a get-iq requesting to's
// registration form, for a caller driving the round trip synchronously
// (e.g. during the connection handshake, before the pending-request table
// has anything pumping fragments into it).
func EncodeFormRequest(id string, to jid.JID) string {
	s := "<iq id='" + id + "' type='get'"
	if !to.IsZero() {
		s += " to='" + to.String() + "'"
	}
	return s + ">" + emptyBody() + "</iq>"
}

// EncodeSubmission builds the wire text of a set-iq submitting s to to, for
// the same synchronous round trip EncodeFormRequest serves.
func EncodeSubmission(id string, to jid.JID, s Submission) string {
	str := "<iq id='" + id + "' type='set'"
	if !to.IsZero() {
		str += " to='" + to.String() + "'"
	}
	return str + ">" + submissionBody(s) + "</iq>"
}

// DecodeForm decodes a jabber:iq:register query element (the payload of a
// registration-form get-iq result) already positioned at its own start tag.
func DecodeForm(start xml.StartElement, d xml.TokenReader) (Form, error) {
	var raw formXML
	if err := xml.NewTokenDecoder(d).DecodeElement(&raw, &start); err != nil {
		return Form{}, err
	}
	return Form{
		Instructions: raw.Instructions,
		Registered:   raw.Registered != nil,
		Username:     raw.Username != nil,
		Password:     raw.Password != nil,
		EMail:        raw.EMail != nil,
	}, nil
}

// GetForm requests the provider's registration form. cb reports the
// decoded Form, or an error on failure.
func GetForm(reqs *reqtable.Table, to jid.JID, cb func(Form, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	return reqs.SendIQ(stanza.GetIQ, to, emptyBody(), func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(Form{}, err)
			return
		}
		var raw formXML
		if decErr := xml.NewTokenDecoder(payload).Decode(&raw); decErr != nil {
			cb(Form{}, decErr)
			return
		}
		cb(Form{
			Instructions: raw.Instructions,
			Registered:   raw.Registered != nil,
			Username:     raw.Username != nil,
			Password:     raw.Password != nil,
			EMail:        raw.EMail != nil,
		}, nil)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

// Submit sends a completed registration form. cb reports success (ok=true
// on iq-result) or failure (the classified stanza.Error, typically
// conflict if the username is taken).
func Submit(reqs *reqtable.Table, to jid.JID, s Submission, cb func(ok bool, err error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	return reqs.SendIQ(stanza.SetIQ, to, submissionBody(s), func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		cb(ok, err)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

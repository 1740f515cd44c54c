package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
)

// IQType is the type attribute of an iq stanza.
type IQType string

// IQ types defined by RFC 6120 §8.2.3.
const (
	GetIQ    IQType = "get"
	SetIQ    IQType = "set"
	ResultIQ IQType = "result"
	ErrorIQ  IQType = "error"
)

// IsRequest reports whether t is a request type (get or set) as opposed to a
// response type (result or error).
func (t IQType) IsRequest() bool {
	return t == GetIQ || t == SetIQ
}

// IQ is a request/response stanza. Every get or set IQ must eventually be
// answered with exactly one result or error IQ carrying the same id
// (spec §3, Pending Request).
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      jid.JID  `xml:"to,attr"`
	From    jid.JID  `xml:"from,attr"`
	Lang    string   `xml:"lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
}

// NewIQ extracts an IQ header from a parsed start element.
func NewIQ(start xml.StartElement) (IQ, error) {
	iq := IQ{XMLName: start.Name}
	id, lang, to, from, err := attrOf(start)
	if err != nil {
		return IQ{}, err
	}
	iq.ID, iq.Lang, iq.To, iq.From = id, lang, to, from
	for _, a := range start.Attr {
		if a.Name.Space == "" && a.Name.Local == "type" {
			iq.Type = IQType(a.Value)
		}
	}
	return iq, nil
}

func (iq IQ) StanzaName() xml.Name { return xml.Name{Local: "iq"} }
func (iq IQ) StanzaID() string     { return iq.ID }
func (iq IQ) StanzaTo() jid.JID    { return iq.To }
func (iq IQ) StanzaFrom() jid.JID  { return iq.From }

// Wrap wraps a payload in this IQ's start tag.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return wrap("iq", iq.ID, iq.To, iq.From, string(iq.Type), iq.Lang, payload)
}

// Result returns a copy of iq addressed back to its sender, with Type set to
// result and To/From swapped — the shape every iq-set/iq-get handler in C3
// replies with on success.
func (iq IQ) Result() IQ {
	iq.Type = ResultIQ
	iq.To, iq.From = iq.From, iq.To
	return iq
}

// Error returns a copy of iq addressed back to its sender with Type set to
// error, for wrapping a stanza.Error payload. Used by C8 when a handler
// returns a classified stanza error.
func (iq IQ) Error() IQ {
	iq.Type = ErrorIQ
	iq.To, iq.From = iq.From, iq.To
	return iq
}

// TokenReader implements xmlstream.Marshaler for an empty-payload IQ.
func (iq IQ) TokenReader() xml.TokenReader {
	return iq.Wrap(nil)
}

// WriteXML implements xmlstream.WriterTo.
func (iq IQ) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, iq.TokenReader())
}

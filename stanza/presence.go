package stanza

import (
	"encoding/xml"

	"strata.im/xmpp/jid"
)

// PresenceType is the type attribute of a presence stanza. The empty string
// is a distinct, valid type meaning "available" (RFC 6121 §4.7.1).
type PresenceType string

// Presence types defined by RFC 6121 §4.7.1.
const (
	AvailablePresence    PresenceType = ""
	UnavailablePresence  PresenceType = "unavailable"
	SubscribePresence    PresenceType = "subscribe"
	SubscribedPresence   PresenceType = "subscribed"
	UnsubscribePresence  PresenceType = "unsubscribe"
	UnsubscribedPresence PresenceType = "unsubscribed"
	ProbePresence        PresenceType = "probe"
	ErrorPresence        PresenceType = "error"
)

// Presence advertises availability for communication and carries status and
// capability information. It is also used for presence-subscription
// management.
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	ID      string       `xml:"id,attr"`
	To      jid.JID      `xml:"to,attr"`
	From    jid.JID      `xml:"from,attr"`
	Lang    string       `xml:"lang,attr,omitempty"`
	Type    PresenceType `xml:"type,attr,omitempty"`
}

// NewPresence extracts a Presence header from a parsed start element.
func NewPresence(start xml.StartElement) (Presence, error) {
	p := Presence{XMLName: start.Name}
	id, lang, to, from, err := attrOf(start)
	if err != nil {
		return Presence{}, err
	}
	p.ID, p.Lang, p.To, p.From = id, lang, to, from
	for _, a := range start.Attr {
		if a.Name.Space == "" && a.Name.Local == "type" {
			p.Type = PresenceType(a.Value)
		}
	}
	return p, nil
}

func (p Presence) StanzaName() xml.Name { return xml.Name{Local: "presence"} }
func (p Presence) StanzaID() string     { return p.ID }
func (p Presence) StanzaTo() jid.JID    { return p.To }
func (p Presence) StanzaFrom() jid.JID  { return p.From }

// Wrap wraps a payload in this Presence's start tag.
func (p Presence) Wrap(payload xml.TokenReader) xml.TokenReader {
	return wrap("presence", p.ID, p.To, p.From, string(p.Type), p.Lang, payload)
}

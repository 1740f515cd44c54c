// Package stanza defines the three XMPP stanza kinds (iq, message,
// presence), the attributes the connection core inspects on them, and the
// stream- and stanza-level error taxonomies of RFC 6120.
package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
)

// Stanza is implemented by IQ, Message and Presence. It exposes the
// attributes the dispatcher (C8) and pending-request table (C4) need in
// order to route and correlate a stanza without caring about its payload.
type Stanza interface {
	StanzaName() xml.Name
	StanzaID() string
	StanzaTo() jid.JID
	StanzaFrom() jid.JID
}

// attrOf extracts the id, to, from and xml:lang attributes common to all
// three stanza kinds from a parsed start element.
func attrOf(start xml.StartElement) (id, lang string, to, from jid.JID, err error) {
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == "" && a.Name.Local == "id":
			id = a.Value
		case a.Name.Space == "" && a.Name.Local == "to":
			if to, err = jid.Parse(a.Value); err != nil {
				return
			}
		case a.Name.Space == "" && a.Name.Local == "from":
			if from, err = jid.Parse(a.Value); err != nil {
				return
			}
		case a.Name.Local == "lang":
			lang = a.Value
		}
	}
	return
}

// Wrap wraps a payload stream inside start, producing a full stanza token
// stream. It is the common plumbing behind IQ.Wrap, Message.Wrap and
// Presence.Wrap.
func wrap(name string, id string, to, from jid.JID, typ string, lang string, payload xml.TokenReader) xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if id != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: id})
	}
	if !to.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: to.String()})
	}
	if !from.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: from.String()})
	}
	if typ != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: typ})
	}
	if lang != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "lang", Space: "xml"}, Value: lang})
	}
	return xmlstream.Wrap(payload, start)
}

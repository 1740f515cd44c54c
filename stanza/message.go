package stanza

import (
	"encoding/xml"

	"strata.im/xmpp/jid"
)

// MessageType is the type attribute of a message stanza.
type MessageType string

// Message types defined by RFC 6121 §5.2.2.
const (
	NormalMessage    MessageType = "normal"
	ChatMessage      MessageType = "chat"
	GroupChatMessage MessageType = "groupchat"
	HeadlineMessage  MessageType = "headline"
	ErrorMessage     MessageType = "error"
)

// Message is a push mechanism for one-to-one or broadcast (groupchat)
// communication.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr"`
	To      jid.JID     `xml:"to,attr"`
	From    jid.JID     `xml:"from,attr"`
	Lang    string      `xml:"lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`
}

// NewMessage extracts a Message header from a parsed start element. An
// absent or unrecognized type attribute defaults to NormalMessage, per
// RFC 6121 §5.2.2.
func NewMessage(start xml.StartElement) (Message, error) {
	msg := Message{XMLName: start.Name, Type: NormalMessage}
	id, lang, to, from, err := attrOf(start)
	if err != nil {
		return Message{}, err
	}
	msg.ID, msg.Lang, msg.To, msg.From = id, lang, to, from
	for _, a := range start.Attr {
		if a.Name.Space == "" && a.Name.Local == "type" {
			switch t := MessageType(a.Value); t {
			case ChatMessage, GroupChatMessage, HeadlineMessage, ErrorMessage:
				msg.Type = t
			}
		}
	}
	return msg, nil
}

func (m Message) StanzaName() xml.Name { return xml.Name{Local: "message"} }
func (m Message) StanzaID() string     { return m.ID }
func (m Message) StanzaTo() jid.JID    { return m.To }
func (m Message) StanzaFrom() jid.JID  { return m.From }

// Wrap wraps a payload in this Message's start tag.
func (m Message) Wrap(payload xml.TokenReader) xml.TokenReader {
	return wrap("message", m.ID, m.To, m.From, string(m.Type), m.Lang, payload)
}

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"strata.im/xmpp/internal/ns"
)

// StreamError represents a fatal, stream-level error (RFC 6120 §4.9). The
// connection state machine (C6) treats every StreamError as terminal: the
// client moves to Error and the failure is reported via the
// connection-error event, except SeeOtherHost which is recovered locally by
// reconnecting (spec §7).
type StreamError struct {
	Condition string
	// Host carries the replacement host for a see-other-host condition.
	Host string
}

// Error implements the error interface, returning the condition name.
func (e StreamError) Error() string {
	return "stream error: " + e.Condition
}

// Stream error conditions defined by RFC 6120 §4.9.3.
var (
	BadFormat              = StreamError{Condition: "bad-format"}
	BadNamespacePrefix     = StreamError{Condition: "bad-namespace-prefix"}
	Conflict               = StreamError{Condition: "conflict"}
	ConnectionTimeout      = StreamError{Condition: "connection-timeout"}
	HostGone               = StreamError{Condition: "host-gone"}
	HostUnknown            = StreamError{Condition: "host-unknown"}
	ImproperAddressing     = StreamError{Condition: "improper-addressing"}
	StreamInternalError    = StreamError{Condition: "internal-server-error"}
	InvalidFrom            = StreamError{Condition: "invalid-from"}
	InvalidNamespace       = StreamError{Condition: "invalid-namespace"}
	InvalidXML             = StreamError{Condition: "invalid-xml"}
	NotAuthorized          = StreamError{Condition: "not-authorized"}
	NotWellFormed          = StreamError{Condition: "not-well-formed"}
	StreamPolicyViolation  = StreamError{Condition: "policy-violation"}
	RemoteConnectionFailed = StreamError{Condition: "remote-connection-failed"}
	StreamReset            = StreamError{Condition: "reset"}
	StreamResourceConstraint = StreamError{Condition: "resource-constraint"}
	RestrictedXML          = StreamError{Condition: "restricted-xml"}
	SystemShutdown         = StreamError{Condition: "system-shutdown"}
	StreamUndefinedCondition = StreamError{Condition: "undefined-condition"}
	UnsupportedEncoding    = StreamError{Condition: "unsupported-encoding"}
	UnsupportedFeature     = StreamError{Condition: "unsupported-feature"}
	UnsupportedStanzaType  = StreamError{Condition: "unsupported-stanza-type"}
	UnsupportedVersion     = StreamError{Condition: "unsupported-version"}
)

// SeeOtherHost builds a see-other-host error carrying the replacement host.
func SeeOtherHost(host string) StreamError {
	return StreamError{Condition: "see-other-host", Host: host}
}

// UnmarshalStreamError reads a <stream:error/> element (the child element
// name is the condition; see-other-host additionally carries the new host as
// character data).
func UnmarshalStreamError(d *xml.Decoder, start xml.StartElement) (StreamError, error) {
	var raw struct {
		XMLName xml.Name
		Cond    struct {
			XMLName xml.Name
			Host    string `xml:",chardata"`
		} `xml:",any"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return StreamError{}, err
	}
	return StreamError{Condition: raw.Cond.XMLName.Local, Host: raw.Cond.Host}, nil
}

// TokenReader encodes the stream error as a <stream:error/> element.
func (e StreamError) TokenReader() xml.TokenReader {
	var inner xml.TokenReader
	condStart := xml.StartElement{Name: xml.Name{Space: ns.Streams, Local: e.Condition}}
	if e.Host != "" {
		inner = xmlstream.Wrap(xmlstream.Token(xml.CharData(e.Host)), condStart)
	} else {
		inner = xmlstream.Wrap(nil, condStart)
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: xml.Name{Space: ns.Stream, Local: "error"}})
}

// Package ns provides the namespace constants used throughout the xmpp
// module and its subpackages.
package ns

// Core XMPP namespaces (RFC 6120).
const (
	Client   = "jabber:client"
	Server   = "jabber:server"
	Stream   = "http://etherx.jabber.org/streams"
	Streams  = "urn:ietf:params:xml:ns:xmpp-streams"
	Stanzas  = "urn:ietf:params:xml:ns:xmpp-stanzas"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	XML      = "http://www.w3.org/XML/1998/namespace"
)

// Extension namespaces (XEPs) used by the boundary-glue packages.
const (
	Roster   = "jabber:iq:roster"
	Disco    = "http://jabber.org/protocol/disco#info"
	DiscoInfo = Disco
	DiscoItems = "http://jabber.org/protocol/disco#items"
	Search   = "jabber:iq:search"
	Register = "jabber:iq:register"
	Version  = "jabber:iq:version"
	DataForm = "jabber:x:data"
	QoS      = "urn:xmpp:qos"
)

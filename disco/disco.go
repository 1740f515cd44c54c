// Package disco implements XEP-0030 Service Discovery: the default
// disco#info handler answering with the handler registry's advertised
// feature set (invariant I3), plus a disco#items handler over a small
// static item list, grounded on the teacher's disco package shape but
// adapted away from its ServeMux-iterator design to this module's simpler
// mux.Registry.
package disco

import (
	"encoding/xml"
	"sync"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/stanza"
)

// Namespaces used by this package.
const (
	NSInfo  = "http://jabber.org/protocol/disco#info"
	NSItems = "http://jabber.org/protocol/disco#items"
)

// Identity is the type and category of a node on the network (RFC/XEP-0030
// §3.1).
type Identity struct {
	Category string
	Type     string
	Name     string
}

func (i Identity) tokenReader() xml.TokenReader {
	attr := []xml.Attr{
		{Name: xml.Name{Local: "category"}, Value: i.Category},
		{Name: xml.Name{Local: "type"}, Value: i.Type},
	}
	if i.Name != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "name"}, Value: i.Name})
	}
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSInfo, Local: "identity"},
		Attr: attr,
	})
}

// Item is a single discoverable item (XEP-0030 §4).
type Item struct {
	JID  jid.JID
	Name string
	Node string
}

func (it Item) tokenReader() xml.TokenReader {
	attr := []xml.Attr{{Name: xml.Name{Local: "jid"}, Value: it.JID.String()}}
	if it.Name != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "name"}, Value: it.Name})
	}
	if it.Node != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "node"}, Value: it.Node})
	}
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSItems, Local: "item"},
		Attr: attr,
	})
}

// Registry holds the identities and items this client advertises, and
// supplies the default info/items iq-get handlers. The feature list itself
// lives in mux.Registry (the source of truth for invariant I3); Registry
// only adds the identity/item data disco#info and disco#items need beyond
// the raw feature var list.
type Registry struct {
	mu         sync.RWMutex
	identities []Identity
	items      []Item
}

// New returns a Registry advertising a single default "client/bot" identity,
// matching the minimal identity every XMPP client must publish.
func New() *Registry {
	return &Registry{identities: []Identity{{Category: "client", Type: "bot", Name: "strata"}}}
}

// AddItem registers an additional item returned by disco#items queries.
func (r *Registry) AddItem(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
}

// InfoHandler returns the iq-get handler for disco#info, reporting mux's
// advertised feature set alongside the registered identities.
func InfoHandler(r *Registry, mx *mux.Registry) mux.IQHandler {
	return func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		r.mu.RLock()
		idents := append([]Identity{}, r.identities...)
		r.mu.RUnlock()

		var payloads []xml.TokenReader
		for _, ident := range idents {
			payloads = append(payloads, ident.tokenReader())
		}
		for _, f := range mx.Features() {
			payloads = append(payloads, featureTokenReader(f))
		}
		reply := xmlstream.Wrap(xmlstream.MultiReader(payloads...), xml.StartElement{
			Name: xml.Name{Space: NSInfo, Local: "query"},
			Attr: queryAttr(start),
		})
		_, err := xmlstream.Copy(t, iq.Result().Wrap(reply))
		return err
	}
}

// ItemsHandler returns the iq-get handler for disco#items.
func ItemsHandler(r *Registry) mux.IQHandler {
	return func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		r.mu.RLock()
		items := append([]Item{}, r.items...)
		r.mu.RUnlock()

		var payloads []xml.TokenReader
		for _, it := range items {
			payloads = append(payloads, it.tokenReader())
		}
		reply := xmlstream.Wrap(xmlstream.MultiReader(payloads...), xml.StartElement{
			Name: xml.Name{Space: NSItems, Local: "query"},
			Attr: queryAttr(start),
		})
		_, err := xmlstream.Copy(t, iq.Result().Wrap(reply))
		return err
	}
}

func featureTokenReader(v string) xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSInfo, Local: "feature"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "var"}, Value: v}},
	})
}

func queryAttr(start *xml.StartElement) []xml.Attr {
	for _, a := range start.Attr {
		if a.Name.Local == "node" {
			return []xml.Attr{a}
		}
	}
	return nil
}

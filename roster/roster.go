// Package roster implements the per-user contact list (spec §3 "Roster
// Item"): a cache kept current by inbound roster pushes and presence, plus
// the default roster-push handler installed in the handler registry (C3).
package roster

import (
	"encoding/xml"
	"sync"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/stanza"
)

// NS is the jabber:iq:roster namespace.
const NS = "jabber:iq:roster"

// Item is a single roster entry (spec §3). LastPresence is nil when the
// contact's presence is unknown, or after an Unavailable presence from the
// cached full JID arrives.
type Item struct {
	JID          jid.JID
	Name         string
	Groups       []string
	Subscription string
	Pending      bool
	LastPresence *stanza.Presence
}

type itemXML struct {
	XMLName      xml.Name `xml:"jabber:iq:roster item"`
	JID          jid.JID  `xml:"jid,attr"`
	Name         string   `xml:"name,attr,omitempty"`
	Subscription string   `xml:"subscription,attr,omitempty"`
	Ask          string   `xml:"ask,attr,omitempty"`
	Group        []string `xml:"group,omitempty"`
}

type queryXML struct {
	XMLName xml.Name  `xml:"jabber:iq:roster query"`
	Items   []itemXML `xml:"item"`
}

// Roster is the roster cache. The zero value is not usable; call New.
type Roster struct {
	mu    sync.RWMutex
	items map[string]*Item

	addedSubs   []func(Item)
	updatedSubs []func(Item)
	removedSubs []func(Item)
}

// New returns an empty Roster.
func New() *Roster {
	return &Roster{items: make(map[string]*Item)}
}

// Get returns the cached item for bare (any resourcepart is ignored).
func (r *Roster) Get(bare jid.JID) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[bare.Bare().String()]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Items returns a snapshot of every cached roster entry.
func (r *Roster) Items() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, *it)
	}
	return out
}

// Contains reports whether bare is a member of the roster (used by the QoS
// engine's admission control, spec §3 "sender bare JID is present in the
// roster").
func (r *Roster) Contains(bare jid.JID) bool {
	_, ok := r.Get(bare)
	return ok
}

// OnAdded, OnUpdated and OnRemoved register subscribers for the
// corresponding roster-item events (spec §6 "Observable events: roster item
// added/updated/removed").
func (r *Roster) OnAdded(f func(Item))   { r.mu.Lock(); r.addedSubs = append(r.addedSubs, f); r.mu.Unlock() }
func (r *Roster) OnUpdated(f func(Item)) { r.mu.Lock(); r.updatedSubs = append(r.updatedSubs, f); r.mu.Unlock() }
func (r *Roster) OnRemoved(f func(Item)) { r.mu.Lock(); r.removedSubs = append(r.removedSubs, f); r.mu.Unlock() }

// applyPush installs or removes one roster item and fires the matching
// event, per scenario 6 (subscription='remove' deletes the entry).
func (r *Roster) applyPush(raw itemXML) {
	bare := raw.JID.Bare()
	key := bare.String()

	r.mu.Lock()
	_, existed := r.items[key]
	var fired func(Item)
	var fired1 Item
	if raw.Subscription == "remove" {
		delete(r.items, key)
		if existed {
			fired, fired1 = r.notifyRemoved, Item{JID: bare}
		}
		r.mu.Unlock()
	} else {
		it := &Item{
			JID:          bare,
			Name:         raw.Name,
			Groups:       raw.Group,
			Subscription: raw.Subscription,
			Pending:      raw.Ask == "subscribe",
		}
		if existed {
			it.LastPresence = r.items[key].LastPresence
		}
		r.items[key] = it
		if existed {
			fired, fired1 = r.notifyUpdated, *it
		} else {
			fired, fired1 = r.notifyAdded, *it
		}
		r.mu.Unlock()
	}
	if fired != nil {
		fired(fired1)
	}
}

func (r *Roster) notifyAdded(it Item) {
	r.mu.RLock()
	subs := append([]func(Item){}, r.addedSubs...)
	r.mu.RUnlock()
	for _, f := range subs {
		f(it)
	}
}

func (r *Roster) notifyUpdated(it Item) {
	r.mu.RLock()
	subs := append([]func(Item){}, r.updatedSubs...)
	r.mu.RUnlock()
	for _, f := range subs {
		f(it)
	}
}

func (r *Roster) notifyRemoved(it Item) {
	r.mu.RLock()
	subs := append([]func(Item){}, r.removedSubs...)
	r.mu.RUnlock()
	for _, f := range subs {
		f(it)
	}
}

// UpdatePresence updates the last_presence slot for the sender's bare JID
// (spec §4.8 dispatcher presence handling): Available/Unavailable presence
// from the full JID currently cached updates or clears LastPresence.
func (r *Roster) UpdatePresence(from jid.JID, p stanza.Presence) {
	bare := from.Bare()
	key := bare.String()

	r.mu.Lock()
	it, ok := r.items[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if p.Type == stanza.UnavailablePresence {
		if it.LastPresence == nil || it.LastPresence.From.Equal(from) {
			it.LastPresence = nil
		}
	} else if p.Type == stanza.AvailablePresence {
		pc := p
		it.LastPresence = &pc
	}
	snap := *it
	r.mu.Unlock()
	r.notifyUpdated(snap)
}

// DecodeInto decodes a jabber:iq:roster query result (the reply to the
// initial roster fetch, spec §4.6 item 2) and applies every item it
// contains to r exactly as an incoming roster push would.
func DecodeInto(r *Roster, start xml.StartElement, t xml.TokenReader) error {
	var q queryXML
	if err := xml.NewTokenDecoder(t).DecodeElement(&q, &start); err != nil {
		return err
	}
	for _, raw := range q.Items {
		r.applyPush(raw)
	}
	return nil
}

// Handler returns the default iq-set handler for roster pushes
// (local-name "query", namespace jabber:iq:roster). It applies every item
// in the push to r and replies with an empty iq-result (scenario 6).
func Handler(r *Roster) mux.IQHandler {
	return func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		var q queryXML
		d := xml.NewTokenDecoder(t)
		if err := d.DecodeElement(&q, start); err != nil {
			return err
		}
		for _, raw := range q.Items {
			r.applyPush(raw)
		}
		_, err := xmlstream.Copy(t, iq.Result().TokenReader())
		return err
	}
}

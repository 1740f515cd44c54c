// Package mux implements the handler registry (C3): three maps, one each
// for iq-get, iq-set and message payloads, keyed by the string
// "<local-name> <namespace-uri>" of the stanza's first child element, as
// specified for the connection core.
package mux

import (
	"encoding/xml"
	"errors"
	"sync"

	"mellium.im/xmlstream"
	"strata.im/xmpp/stanza"
)

// Errors returned by Register and Unregister.
var (
	// ErrAlreadyRegistered is returned when a handler is already bound to the
	// requested key.
	ErrAlreadyRegistered = errors.New("mux: handler already registered for key")
	// ErrNotRegistered is returned by Unregister when no handler is bound to
	// the requested key.
	ErrNotRegistered = errors.New("mux: no handler registered for key")
	// ErrWrongHandle is returned by Unregister when the caller's handle does
	// not match the registrant's (a registrant may not remove someone else's
	// handler).
	ErrWrongHandle = errors.New("mux: handle does not match registered handler")
)

// IQHandler answers a get or set IQ whose first child payload matched a
// registered key. t is scoped to the inside of the IQ element; start is the
// payload's start element.
type IQHandler func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error

// MessageHandler handles a message whose first child payload matched a
// registered key.
type MessageHandler func(msg stanza.Message, t xmlstream.TokenReadEncoder, start *xml.StartElement) error

// Handle is an opaque token identifying a specific registration. Unregister
// requires the same Handle that Register returned, so that a registrant may
// not remove someone else's handler.
type Handle struct {
	key string
	bit *int
}

type iqEntry struct {
	handler IQHandler
	handle  Handle
	feature bool
}

type msgEntry struct {
	handler MessageHandler
	handle  Handle
	feature bool
}

// Registry is the handler registry (C3). Use New to construct one: the zero
// value has nil maps, and registering a handler on it panics.
type Registry struct {
	mu sync.RWMutex

	iqGet map[string]iqEntry
	iqSet map[string]iqEntry
	msg   map[string]msgEntry

	// features is the advertised feature set: the union of core-default
	// features and the namespaces of handlers registered with
	// publishAsFeature true (invariant I3).
	features map[string]struct{}
}

// New allocates a ready-to-use Registry with no handlers registered.
func New() *Registry {
	return &Registry{
		iqGet:    make(map[string]iqEntry),
		iqSet:    make(map[string]iqEntry),
		msg:      make(map[string]msgEntry),
		features: make(map[string]struct{}),
	}
}

func key(local, namespace string) string {
	return local + " " + namespace
}

// RegisterIQGet registers h to handle get-type IQs whose first child payload
// has the given local name and namespace. If publishAsFeature is true, ns is
// added to the advertised Service Discovery feature set.
func (r *Registry) RegisterIQGet(local, namespace string, h IQHandler, publishAsFeature bool) (Handle, error) {
	return r.registerIQ(r.iqGetMap, local, namespace, h, publishAsFeature)
}

// RegisterIQSet is like RegisterIQGet but for set-type IQs.
func (r *Registry) RegisterIQSet(local, namespace string, h IQHandler, publishAsFeature bool) (Handle, error) {
	return r.registerIQ(r.iqSetMap, local, namespace, h, publishAsFeature)
}

func (r *Registry) iqGetMap() map[string]iqEntry { return r.iqGet }
func (r *Registry) iqSetMap() map[string]iqEntry { return r.iqSet }

func (r *Registry) registerIQ(tbl func() map[string]iqEntry, local, namespace string, h IQHandler, publishAsFeature bool) (Handle, error) {
	if h == nil {
		panic("mux: nil IQHandler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(local, namespace)
	m := tbl()
	if _, ok := m[k]; ok {
		return Handle{}, ErrAlreadyRegistered
	}
	hd := Handle{key: k, bit: new(int)}
	m[k] = iqEntry{handler: h, handle: hd, feature: publishAsFeature}
	if publishAsFeature {
		r.features[namespace] = struct{}{}
	}
	return hd, nil
}

// RegisterMessage registers h to handle messages whose first child payload
// has the given local name and namespace.
func (r *Registry) RegisterMessage(local, namespace string, h MessageHandler, publishAsFeature bool) (Handle, error) {
	if h == nil {
		panic("mux: nil MessageHandler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(local, namespace)
	if _, ok := r.msg[k]; ok {
		return Handle{}, ErrAlreadyRegistered
	}
	hd := Handle{key: k, bit: new(int)}
	r.msg[k] = msgEntry{handler: h, handle: hd, feature: publishAsFeature}
	if publishAsFeature {
		r.features[namespace] = struct{}{}
	}
	return hd, nil
}

// UnregisterIQGet removes a previously registered get-type IQ handler. It
// fails with ErrWrongHandle unless h is the Handle returned by the matching
// Register call.
func (r *Registry) UnregisterIQGet(local, namespace string, h Handle) error {
	return r.unregisterIQ(r.iqGetMap, local, namespace, h)
}

// UnregisterIQSet is like UnregisterIQGet but for set-type IQs.
func (r *Registry) UnregisterIQSet(local, namespace string, h Handle) error {
	return r.unregisterIQ(r.iqSetMap, local, namespace, h)
}

func (r *Registry) unregisterIQ(tbl func() map[string]iqEntry, local, namespace string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(local, namespace)
	m := tbl()
	entry, ok := m[k]
	if !ok {
		return ErrNotRegistered
	}
	if entry.handle != h {
		return ErrWrongHandle
	}
	delete(m, k)
	if entry.feature {
		delete(r.features, namespace)
	}
	return nil
}

// UnregisterMessage removes a previously registered message handler.
func (r *Registry) UnregisterMessage(local, namespace string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(local, namespace)
	entry, ok := r.msg[k]
	if !ok {
		return ErrNotRegistered
	}
	if entry.handle != h {
		return ErrWrongHandle
	}
	delete(r.msg, k)
	if entry.feature {
		delete(r.features, namespace)
	}
	return nil
}

// IQHandler looks up the registered handler for a get or set IQ's first
// child payload name. ok is false if no handler is registered.
func (r *Registry) IQHandler(typ stanza.IQType, payload xml.Name) (h IQHandler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m map[string]iqEntry
	switch typ {
	case stanza.GetIQ:
		m = r.iqGet
	case stanza.SetIQ:
		m = r.iqSet
	default:
		return nil, false
	}
	entry, ok := m[key(payload.Local, payload.Space)]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// MessageHandler looks up the registered handler for a message's first
// child payload name.
func (r *Registry) MessageHandler(payload xml.Name) (h MessageHandler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.msg[key(payload.Local, payload.Space)]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// Features returns a snapshot of the advertised Service Discovery feature
// set: the union of core-default features (added via AddDefaultFeature) and
// the namespaces of handlers registered with publishAsFeature true
// (invariant I3).
func (r *Registry) Features() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.features))
	for ns := range r.features {
		out = append(out, ns)
	}
	return out
}

// AddDefaultFeature adds ns to the feature set without an associated
// handler, for seeding core-default features. Dial does not call it, so a
// Client's feature set holds only the namespaces of handlers registered
// with publishAsFeature true.
func (r *Registry) AddDefaultFeature(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[ns] = struct{}{}
}

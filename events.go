package xmpp

import (
	"sync"

	"strata.im/xmpp/ibr"
	"strata.im/xmpp/stanza"
)

// events collects the general, by-type observable events named in spec §6
// beyond state-changed and roster item added/updated/removed (which live on
// Roster) and presence (which lives in dispatch.go's OnPresence): message
// dispatched by type, each presence-subscription variant, and
// connection-error.
type events struct {
	mu sync.RWMutex

	connError []func(error)

	pwChangeForm []func(ibr.Form)
	pwChanged    []func()

	msgChat      []func(stanza.Message)
	msgError     []func(stanza.Message)
	msgGroupChat []func(stanza.Message)
	msgHeadline  []func(stanza.Message)
	msgNormal    []func(stanza.Message)

	presSubscribe    []func(stanza.Presence)
	presSubscribed   []func(stanza.Presence)
	presUnsubscribe  []func(stanza.Presence)
	presUnsubscribed []func(stanza.Presence)
	presProbe        []func(stanza.Presence)
	presError        []func(stanza.Presence)
}

// OnConnError registers a subscriber invoked whenever the connection moves
// to the Error state because of a fatal stream error or local transport
// failure (spec §7 "reported via the connection-error event"). SeeOtherHost
// is recovered locally by reconnecting and does not fire this event.
func (c *Client) OnConnError(f func(error)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.connError = append(c.events.connError, f)
}

func (c *Client) fireConnError(err error) {
	c.events.mu.RLock()
	subs := append([]func(error){}, c.events.connError...)
	c.events.mu.RUnlock()
	for _, f := range subs {
		f(err)
	}
}

// OnPasswordChangeForm registers a subscriber invoked with the provider's
// jabber:iq:register form at the start of ChangePassword, before the new
// password is submitted (spec §6 "password-change form" event).
func (c *Client) OnPasswordChangeForm(f func(ibr.Form)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.pwChangeForm = append(c.events.pwChangeForm, f)
}

func (c *Client) firePasswordChangeForm(form ibr.Form) {
	c.events.mu.RLock()
	subs := append([]func(ibr.Form){}, c.events.pwChangeForm...)
	c.events.mu.RUnlock()
	for _, f := range subs {
		f(form)
	}
}

// OnPasswordChanged registers a subscriber invoked once ChangePassword's
// submission is accepted (spec §6 "password-changed" event).
func (c *Client) OnPasswordChanged(f func()) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.pwChanged = append(c.events.pwChanged, f)
}

func (c *Client) firePasswordChanged() {
	c.events.mu.RLock()
	subs := append([]func(){}, c.events.pwChanged...)
	c.events.mu.RUnlock()
	for _, f := range subs {
		f()
	}
}

// OnChatMessage, OnErrorMessage, OnGroupChatMessage, OnHeadlineMessage and
// OnNormalMessage register subscribers invoked for an inbound message whose
// first child payload matched no registered handler (spec §4.8 "Else
// dispatch by type... to the corresponding general event").
func (c *Client) OnChatMessage(f func(stanza.Message)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.msgChat = append(c.events.msgChat, f)
}

func (c *Client) OnErrorMessage(f func(stanza.Message)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.msgError = append(c.events.msgError, f)
}

func (c *Client) OnGroupChatMessage(f func(stanza.Message)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.msgGroupChat = append(c.events.msgGroupChat, f)
}

func (c *Client) OnHeadlineMessage(f func(stanza.Message)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.msgHeadline = append(c.events.msgHeadline, f)
}

func (c *Client) OnNormalMessage(f func(stanza.Message)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.msgNormal = append(c.events.msgNormal, f)
}

// dispatchMessageByType fires the general event matching msg.Type, per spec
// §4.8's message-dispatch fallback.
func (c *Client) dispatchMessageByType(msg stanza.Message) {
	c.events.mu.RLock()
	var subs []func(stanza.Message)
	switch msg.Type {
	case stanza.ChatMessage:
		subs = append(subs, c.events.msgChat...)
	case stanza.ErrorMessage:
		subs = append(subs, c.events.msgError...)
	case stanza.GroupChatMessage:
		subs = append(subs, c.events.msgGroupChat...)
	case stanza.HeadlineMessage:
		subs = append(subs, c.events.msgHeadline...)
	default:
		subs = append(subs, c.events.msgNormal...)
	}
	c.events.mu.RUnlock()
	for _, f := range subs {
		f(msg)
	}
}

// OnSubscribe, OnSubscribed, OnUnsubscribe, OnUnsubscribed, OnProbe and
// OnPresenceError register subscribers for each presence-subscription
// variant named in spec §6; OnPresence (dispatch.go) already covers
// Available/Unavailable.
func (c *Client) OnSubscribe(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presSubscribe = append(c.events.presSubscribe, f)
}

func (c *Client) OnSubscribed(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presSubscribed = append(c.events.presSubscribed, f)
}

func (c *Client) OnUnsubscribe(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presUnsubscribe = append(c.events.presUnsubscribe, f)
}

func (c *Client) OnUnsubscribed(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presUnsubscribed = append(c.events.presUnsubscribed, f)
}

func (c *Client) OnProbe(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presProbe = append(c.events.presProbe, f)
}

func (c *Client) OnPresenceError(f func(stanza.Presence)) {
	c.events.mu.Lock()
	defer c.events.mu.Unlock()
	c.events.presError = append(c.events.presError, f)
}

// dispatchPresenceByType fires the subscription-variant event matching p's
// type, per spec §4.8's presence dispatch table. Available/Unavailable are
// handled separately by OnPresence in dispatch.go.
func (c *Client) dispatchPresenceByType(p stanza.Presence) {
	c.events.mu.RLock()
	var subs []func(stanza.Presence)
	switch p.Type {
	case stanza.SubscribePresence:
		subs = append(subs, c.events.presSubscribe...)
	case stanza.SubscribedPresence:
		subs = append(subs, c.events.presSubscribed...)
	case stanza.UnsubscribePresence:
		subs = append(subs, c.events.presUnsubscribe...)
	case stanza.UnsubscribedPresence:
		subs = append(subs, c.events.presUnsubscribed...)
	case stanza.ProbePresence:
		subs = append(subs, c.events.presProbe...)
	case stanza.ErrorPresence:
		subs = append(subs, c.events.presError...)
	}
	c.events.mu.RUnlock()
	for _, f := range subs {
		f(p)
	}
}

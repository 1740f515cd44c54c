package xmpp

import (
	"errors"
	"testing"

	"strata.im/xmpp/stanza"
)

func TestDispatchMessageByTypeRoutesToMatchingEvent(t *testing.T) {
	c := &Client{}

	var gotChat, gotNormal, gotGroupChat stanza.Message
	var chatCalls, normalCalls, groupChatCalls int
	c.OnChatMessage(func(m stanza.Message) { gotChat = m; chatCalls++ })
	c.OnNormalMessage(func(m stanza.Message) { gotNormal = m; normalCalls++ })
	c.OnGroupChatMessage(func(m stanza.Message) { gotGroupChat = m; groupChatCalls++ })

	chat := stanza.Message{Type: stanza.ChatMessage, ID: "m1"}
	c.dispatchMessageByType(chat)
	if chatCalls != 1 || gotChat.ID != "m1" {
		t.Fatalf("expected chat subscriber to fire once with m1, got %d calls, id=%q", chatCalls, gotChat.ID)
	}
	if normalCalls != 0 || groupChatCalls != 0 {
		t.Fatalf("expected only the chat subscriber to fire, got normal=%d groupchat=%d", normalCalls, groupChatCalls)
	}

	normal := stanza.Message{Type: stanza.NormalMessage, ID: "m2"}
	c.dispatchMessageByType(normal)
	if normalCalls != 1 || gotNormal.ID != "m2" {
		t.Fatalf("expected normal subscriber to fire once with m2, got %d calls", normalCalls)
	}
}

func TestDispatchMessageByTypeDefaultsUnrecognizedTypeToNormal(t *testing.T) {
	c := &Client{}
	var calls int
	c.OnNormalMessage(func(stanza.Message) { calls++ })
	c.dispatchMessageByType(stanza.Message{Type: stanza.MessageType("")})
	if calls != 1 {
		t.Fatalf("expected the zero-value message type to fall back to the normal event, got %d calls", calls)
	}
}

func TestDispatchPresenceByTypeRoutesSubscriptionVariants(t *testing.T) {
	c := &Client{}
	var subscribeCalls, subscribedCalls, probeCalls int
	c.OnSubscribe(func(stanza.Presence) { subscribeCalls++ })
	c.OnSubscribed(func(stanza.Presence) { subscribedCalls++ })
	c.OnProbe(func(stanza.Presence) { probeCalls++ })

	c.dispatchPresenceByType(stanza.Presence{Type: stanza.SubscribePresence})
	c.dispatchPresenceByType(stanza.Presence{Type: stanza.SubscribedPresence})
	c.dispatchPresenceByType(stanza.Presence{Type: stanza.ProbePresence})

	if subscribeCalls != 1 || subscribedCalls != 1 || probeCalls != 1 {
		t.Fatalf("expected each variant's subscriber to fire exactly once, got subscribe=%d subscribed=%d probe=%d",
			subscribeCalls, subscribedCalls, probeCalls)
	}
}

func TestDispatchPresenceByTypeIgnoresAvailableUnavailable(t *testing.T) {
	c := &Client{}
	var calls int
	c.OnSubscribe(func(stanza.Presence) { calls++ })
	// Available/Unavailable are routed through OnPresence in dispatch.go, not
	// through the by-type subscription events.
	c.dispatchPresenceByType(stanza.Presence{Type: stanza.AvailablePresence})
	c.dispatchPresenceByType(stanza.Presence{Type: stanza.UnavailablePresence})
	if calls != 0 {
		t.Fatalf("expected no subscription-variant subscriber to fire for available/unavailable, got %d calls", calls)
	}
}

func TestFireConnErrorInvokesAllSubscribers(t *testing.T) {
	c := &Client{}
	var first, second error
	c.OnConnError(func(err error) { first = err })
	c.OnConnError(func(err error) { second = err })

	want := errors.New("boom")
	c.fireConnError(want)

	if first != want || second != want {
		t.Fatalf("expected both subscribers to observe %v, got %v and %v", want, first, second)
	}
}

package xmpp

import (
	"context"
	"testing"

	"strata.im/xmpp/jid"
)

func TestDisposeMovesToOfflineAndIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t)
	c.setState(Connected)

	if err := c.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if c.State() != Offline {
		t.Fatalf("state = %v, want Offline", c.State())
	}
	if err := c.Dispose(); err != nil {
		t.Fatalf("second Dispose should also report no error, got: %v", err)
	}
}

func TestHardOfflineIsCloseAlias(t *testing.T) {
	c, _ := newTestClient(t)
	c.setState(Connected)
	if err := c.HardOffline(); err != nil {
		t.Fatalf("HardOffline: %v", err)
	}
	if c.State() != Offline {
		t.Fatalf("state = %v, want Offline", c.State())
	}
}

func TestCloseThenDisposeIsANoOpSecondCall(t *testing.T) {
	c, _ := newTestClient(t)
	c.setState(Connected)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// closeOnce is shared between Close and Dispose: whichever teardown
	// variant runs first wins, and the other is a no-op.
	if err := c.Dispose(); err != nil {
		t.Fatalf("Dispose after Close: %v", err)
	}
	if c.State() != Offline {
		t.Fatalf("state = %v, want Offline", c.State())
	}
}

func TestOnReconnectRegistersSubscriber(t *testing.T) {
	c, _ := newTestClient(t)
	var gotErr error
	var gotClient *Client
	c.OnReconnect(func(next *Client, err error) {
		gotClient, gotErr = next, err
	})
	if c.reconnectSub == nil {
		t.Fatal("expected OnReconnect to register a subscriber")
	}
	// Invoke the subscriber directly the way handleSeeOtherHost would,
	// without driving a real Dial over the network.
	c.reconnectSub(nil, nil)
	if gotClient != nil || gotErr != nil {
		t.Fatalf("expected subscriber to observe (nil, nil), got (%v, %v)", gotClient, gotErr)
	}
}

func TestReconnectReusesBoundResourcepart(t *testing.T) {
	c, _ := newTestClient(t)
	c.bound = jid.MustParse("user@example.com/mobile")
	c.opts.User = jid.MustParse("user@example.com")

	// Reconnect drives a real Dial; with an already-cancelled context that
	// Dial fails at the transport step, after Reconnect has carried the
	// bound resourcepart into the configured User JID.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Reconnect(ctx); err == nil {
		t.Fatal("expected Dial to fail on a cancelled context")
	}
	if c.opts.User.Resourcepart() != "mobile" {
		t.Fatalf("expected resourcepart mobile preserved, got %q", c.opts.User.Resourcepart())
	}
}

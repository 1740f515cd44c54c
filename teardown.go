package xmpp

import "context"

// Dispose performs the "soft" teardown named by spec §5: it emits the
// stream footer, lets the write serializer drain whatever is already
// queued, then closes the transport. The client ends in the Offline state,
// from which Reconnect restarts at Connecting and requests the previously
// bound resource again.
//
// Dispose and Close/HardOffline share one teardown: whichever is called
// first tears the connection down, and the other becomes a no-op, the same
// idempotent-close contract Close documents on its own.
func (c *Client) Dispose() error {
	var err error
	c.closeOnce.Do(func() {
		if c.out != nil {
			_ = c.writeSync("</stream:stream>")
			err = c.out.Close()
		}
		if c.conn != nil {
			if cerr := c.conn.Close(); err == nil {
				err = cerr
			}
		}
		c.setState(Offline)
	})
	return err
}

// HardOffline performs the "hard" teardown named by spec §5: an abrupt
// close with no stream footer, for when the transport is already known to
// be unusable. Close is an alias kept for callers that don't distinguish.
func (c *Client) HardOffline() error {
	return c.Close()
}

// OnReconnect registers f to be invoked with the result of a see-other-host
// redirect (scenario 5) or an explicit Reconnect call: either the freshly
// dialed Client, or the error Dial returned.
func (c *Client) OnReconnect(f func(*Client, error)) {
	c.reconnectSub = f
}

// handleSeeOtherHost recovers a see-other-host stream error (spec §4.6,
// §7, scenario 5) by tearing the connection down and reconnecting to host,
// preserving every other configured option.
func (c *Client) handleSeeOtherHost(host string) {
	_ = c.HardOffline()
	c.opts.Host = host
	next, err := Dial(context.Background(), c.opts)
	if c.reconnectSub != nil {
		c.reconnectSub(next, err)
	}
}

// Reconnect tears down the current connection (if still live) and drives a
// fresh Dial against the same Options, restarting at the Connecting state
// (spec §5). Before dialing it copies the resourcepart bound on this
// connection into the configured User JID, so bindResource's
// request-the-same-resource path (client.go) asks for it again on the next
// handshake. Dial builds a new Client with an empty roster and fetches the
// roster again when RequestRosterOnStartup is set. The result is also
// passed to the OnReconnect subscriber, if one is registered.
func (c *Client) Reconnect(ctx context.Context) (*Client, error) {
	_ = c.HardOffline()
	if res := c.bound.Resourcepart(); res != "" {
		c.opts.User = c.opts.User.WithResource(res)
	}
	next, err := Dial(ctx, c.opts)
	if c.reconnectSub != nil {
		c.reconnectSub(next, err)
	}
	return next, err
}

package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmlstream"
	"strata.im/xmpp/disco"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/stanza"
)

// SendMessage writes msg with payload as its body directly to the wire
// through the write serializer (C5).
func (c *Client) SendMessage(msg stanza.Message, payload xml.TokenReader) error {
	_, err := xmlstream.Copy(c, msg.Wrap(payload))
	return err
}

// SendPresence writes p with payload as its body directly to the wire.
func (c *Client) SendPresence(p stanza.Presence, payload xml.TokenReader) error {
	_, err := xmlstream.Copy(c, p.Wrap(payload))
	return err
}

// SendIQ submits a get/set IQ through the pending-request table (C4) using
// this client's configured default retry policy, returning the allocated
// sequence number (spec §4.4's send_iq).
func (c *Client) SendIQ(typ stanza.IQType, to jid.JID, body string, cb func(ok bool, payload xml.TokenReader, from jid.JID, err error)) uint32 {
	o := c.opts
	return c.Reqs.SendIQ(typ, to, body, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		cb(ok, payload, from, err)
	}, nil, o.DefaultRetryTimeout, o.DefaultNrRetries, o.DefaultDropOff, o.DefaultMaxRetryTimeout)
}

// syncResult is the outcome of a blocking wrapper gated on a single-shot
// channel, per spec §5 "the only blocking API surfaces... gate on a
// single-shot event with a caller-supplied timeout and throw on expiry".
type syncResult struct {
	payload xml.TokenReader
	from    jid.JID
	err     error
}

// IQGetSync blocks until to answers the get IQ carrying body, or ctx is
// done. It is the synchronous iq_get_sync wrapper spec §5 names.
func (c *Client) IQGetSync(ctx context.Context, to jid.JID, body string) (xml.TokenReader, jid.JID, error) {
	return c.iqSync(ctx, stanza.GetIQ, to, body)
}

// IQSetSync is IQGetSync for a set IQ.
func (c *Client) IQSetSync(ctx context.Context, to jid.JID, body string) (xml.TokenReader, jid.JID, error) {
	return c.iqSync(ctx, stanza.SetIQ, to, body)
}

func (c *Client) iqSync(ctx context.Context, typ stanza.IQType, to jid.JID, body string) (xml.TokenReader, jid.JID, error) {
	done := make(chan syncResult, 1)
	o := c.opts
	c.Reqs.SendIQ(typ, to, body, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			done <- syncResult{err: err}
			return
		}
		done <- syncResult{payload: payload, from: from}
	}, nil, o.DefaultRetryTimeout, o.DefaultNrRetries, o.DefaultDropOff, o.DefaultMaxRetryTimeout)

	select {
	case <-ctx.Done():
		return nil, jid.JID{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case r := <-done:
		return r.payload, r.from, r.err
	}
}

// SendUnacknowledged sends body to, with no delivery guarantee beyond the
// write succeeding (spec §4.7 "Unacknowledged"), through the QoS engine
// (C7).
func (c *Client) SendUnacknowledged(to jid.JID, body string, done func(ok bool, err error)) {
	c.QoS.SendUnacknowledged(to, body, done)
}

// SendAcknowledged sends body to as an acknowledged-delivery message
// (spec §4.7 "Acknowledged"), using this client's configured default retry
// policy, and returns the allocated sequence number.
func (c *Client) SendAcknowledged(to jid.JID, body string, done func(ok bool, err error)) uint32 {
	o := c.opts
	return c.QoS.SendAcknowledged(to, body, done, o.DefaultRetryTimeout, o.DefaultMaxRetryTimeout, o.DefaultNrRetries, o.DefaultDropOff)
}

// SendAssured sends body to as an assured-delivery message (spec §4.7
// "Assured"), using this client's configured default retry policy, and
// returns the generated message ID and allocated sequence number.
func (c *Client) SendAssured(to jid.JID, body string, done func(ok bool, err error)) (msgID string, seq uint32) {
	o := c.opts
	return c.QoS.SendAssured(to, body, done, o.DefaultRetryTimeout, o.DefaultMaxRetryTimeout, o.DefaultNrRetries, o.DefaultDropOff)
}

// ServiceDiscoverySync blocks until to answers a disco#info query, or ctx
// is done (spec §5's service_discovery_sync).
func (c *Client) ServiceDiscoverySync(ctx context.Context, to jid.JID) (disco.InfoResult, error) {
	done := make(chan struct {
		res disco.InfoResult
		err error
	}, 1)
	o := c.opts
	disco.Info(c.Reqs, to, func(res disco.InfoResult, err error) {
		done <- struct {
			res disco.InfoResult
			err error
		}{res, err}
	}, o.DefaultRetryTimeout, o.DefaultMaxRetryTimeout, o.DefaultNrRetries, o.DefaultDropOff)

	select {
	case <-ctx.Done():
		return disco.InfoResult{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case r := <-done:
		return r.res, r.err
	}
}

package xmpp

import (
	"encoding/xml"
	"fmt"

	"strata.im/xmpp/disco"
	"strata.im/xmpp/form"
	"strata.im/xmpp/internal/attr"
	"strata.im/xmpp/internal/ns"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/roster"
	"strata.im/xmpp/stanza"
	"strata.im/xmpp/version"
)

// installDefaultHandlers registers the handlers spec §4.3 requires to be
// present from startup: roster push, disco#info, disco#items, software
// version, the three QoS delivery handlers, and the dynamic-form-update
// message handler.
func (c *Client) installDefaultHandlers() {
	discoReg := disco.New()
	c.discoReg = discoReg

	if _, err := c.Mux.RegisterIQSet("query", ns.Roster, roster.Handler(c.Roster), false); err != nil {
		panic(err) // only fails on a duplicate registration, which can't happen this early
	}
	if _, err := c.Mux.RegisterIQGet("query", ns.DiscoInfo, disco.InfoHandler(discoReg, c.Mux), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterIQGet("query", ns.DiscoItems, disco.ItemsHandler(discoReg), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterIQGet("query", ns.Version, version.Handler(version.Query{Name: "strata", Version: "1.0"}), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterIQSet("acknowledged", ns.QoS, c.QoS.AcknowledgedHandler(), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterIQSet("assured", ns.QoS, c.QoS.AssuredHandler(), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterIQSet("deliver", ns.QoS, c.QoS.DeliverHandler(), true); err != nil {
		panic(err)
	}
	if _, err := c.Mux.RegisterMessage("x", ns.DataForm, form.UpdateHandler(c.onFormUpdate), false); err != nil {
		panic(err)
	}
}

// onFormUpdate is the default dynamic-form-update sink; OnFormUpdate
// replaces it with a caller-supplied callback.
func (c *Client) onFormUpdate(msg stanza.Message, d form.Data) {
	if c.formUpdateSub != nil {
		c.formUpdateSub(msg, d)
	}
}

// OnFormUpdate registers f to be called whenever a result-type data form
// arrives embedded in a <message/> (spec §6 "dynamic form update").
func (c *Client) OnFormUpdate(f func(stanza.Message, form.Data)) {
	c.formUpdateSub = f
}

// deliverLocal is the QoS engine's dispatch callback: it re-decodes the
// stored <message/> payload and routes it exactly as any other inbound
// message, so assured and acknowledged deliveries reach the same handlers
// as a bare unacknowledged one.
func (c *Client) deliverLocal(from jid.JID, payload xml.TokenReader) {
	tok, err := payload.Token()
	if err != nil {
		return
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return
	}
	msg, err := stanza.NewMessage(start)
	if err != nil {
		return
	}
	msg.From = from
	if err := c.dispatchMessage(msg, start, payload); err != nil && c.opts.Logger != nil {
		c.opts.Logger.Printf("qos redelivery: %v", err)
	}
}

// fetchRoster requests the roster synchronously (spec §4.6 item 2,
// "request roster") and populates c.Roster's initial contents from the
// result before Dial returns. Like bindResource, this runs before Serve
// ever starts draining the stream, so the reply is read directly off the
// tokenizer rather than correlated through the pending-request table (C4),
// which has nothing pumping fragments into it yet.
func (c *Client) fetchRoster() error {
	id := attr.RandomID()
	if err := c.writeSync(fmt.Sprintf("<iq id='%s' type='get'><query xmlns='%s'/></iq>", id, ns.Roster)); err != nil {
		return err
	}
	start, d, err := c.nextFragmentDecoder()
	if err != nil {
		return err
	}
	iq, err := stanza.NewIQ(start)
	if err != nil {
		return err
	}
	if iq.Type == stanza.ErrorIQ {
		return fmt.Errorf("%w: roster fetch failed", ErrNotConnected)
	}
	tok, err := d.Token()
	if err != nil {
		return err
	}
	qstart, isStart := tok.(xml.StartElement)
	if !isStart {
		return fmt.Errorf("%w: malformed roster result", ErrParse)
	}
	return roster.DecodeInto(c.Roster, qstart, d)
}

// sendInitialPresence broadcasts available presence, the final step of the
// connection handshake (spec §4.6 item 2, "set initial presence").
func (c *Client) sendInitialPresence() error {
	return c.writeSync("<presence/>")
}

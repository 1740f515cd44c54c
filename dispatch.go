package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"time"

	"mellium.im/xmlstream"
	"strata.im/xmpp/stanza"
)

// Serve drains the stream until ctx is cancelled or a read fails: every
// top-level stanza fragment is parsed and routed to the handler registry
// (C3), the pending-request table (C4) or the QoS engine (C7), and a
// 1-second ticker drives C4's retry/timeout sweep, per spec §5's
// single-goroutine execution model — Serve must not be called from more
// than one goroutine at a time, and handlers it invokes run synchronously
// on its goroutine.
func (c *Client) Serve(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fragments := make(chan fragmentOrErr, 1)
	go c.readFragments(fragments)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Reqs.Tick(time.Now())
		case fo, open := <-fragments:
			if !open {
				return nil
			}
			if fo.err != nil {
				if errors.Is(fo.err, io.EOF) {
					// The stream footer closed the document at depth 0 (spec
					// §4.1): a graceful stream close, not a failure.
					c.setState(Offline)
					return nil
				}
				c.setState(Error)
				c.fireConnError(fo.err)
				return fo.err
			}
			if err := c.dispatchFragment(fo.start, fo.decoder); err != nil && c.opts.Logger != nil {
				c.opts.Logger.Printf("dispatch: %v", err)
			}
		}
	}
}

type fragmentOrErr struct {
	start   xml.StartElement
	decoder *xml.Decoder
	err     error
}

// readFragments feeds parsed fragments to Serve's select loop so that a
// blocking tokenizer read never starves the retry ticker.
func (c *Client) readFragments(out chan<- fragmentOrErr) {
	defer close(out)
	for {
		start, d, err := c.nextFragmentDecoder()
		out <- fragmentOrErr{start: start, decoder: d, err: err}
		if err != nil {
			return
		}
	}
}

// dispatchFragment routes one top-level stanza to the right consumer
// (spec §4.8 "Dispatch"). start is the stanza's own opening tag; d is a
// decoder continuing from directly after it, scoped to this fragment.
func (c *Client) dispatchFragment(start xml.StartElement, d *xml.Decoder) error {
	switch start.Name.Local {
	case "iq":
		return c.dispatchIQ(start, d)
	case "message":
		msg, err := stanza.NewMessage(start)
		if err != nil {
			return err
		}
		return c.dispatchMessage(msg, start, d)
	case "presence":
		return c.dispatchPresence(start, d)
	case "error":
		return c.dispatchStreamError(start, d)
	default:
		// Anything else at the top level (e.g. whitespace pings) is simply
		// not a stanza and carries nothing to route.
		return nil
	}
}

// dispatchStreamError handles a top-level <stream:error/>: a fatal
// condition per spec §7, except see-other-host which is recovered locally
// by reconnecting to the replacement host (spec §4.6, scenario 5).
func (c *Client) dispatchStreamError(start xml.StartElement, d *xml.Decoder) error {
	se, err := stanza.UnmarshalStreamError(d, start)
	if err != nil {
		return err
	}
	if se.Condition == "see-other-host" && se.Host != "" {
		go c.handleSeeOtherHost(se.Host)
		return nil
	}
	c.setState(Error)
	c.fireConnError(se)
	return se
}

// firstChild advances past leading character data/comments to find the
// stanza's payload start element, or reports ok=false for an empty stanza
// (e.g. a bare <presence/>).
func firstChild(d *xml.Decoder) (start xml.StartElement, ok bool, err error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, nil
		case xml.EndElement:
			return xml.StartElement{}, false, nil
		}
	}
}

func (c *Client) dispatchIQ(start xml.StartElement, d *xml.Decoder) error {
	iq, err := stanza.NewIQ(start)
	if err != nil {
		return err
	}

	payloadStart, hasPayload, err := firstChild(d)
	if err != nil {
		return err
	}

	if !iq.Type.IsRequest() {
		// A result or error IQ is always a response to something this client
		// sent; correlate it through C4 rather than C3.
		var payload xml.TokenReader
		var respErr error
		if iq.Type == stanza.ErrorIQ {
			if hasPayload && payloadStart.Name.Local == "error" {
				se, decErr := stanza.UnmarshalError(d, payloadStart)
				if decErr != nil {
					return decErr
				}
				respErr = se
			} else {
				respErr = stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
			}
		} else if hasPayload {
			// reqtable's Callback convention expects a self-contained reader
			// that replays the payload's own start tag (see decodeQuery in
			// package version), unlike the mux-handler convention below.
			payload = newWrapDecoder(d, payloadStart)
		}
		c.Reqs.Resolve(iq.ID, iq.Type == stanza.ResultIQ, payload, iq.From, respErr)
		return nil
	}

	if !hasPayload {
		return c.replyIQError(iq, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest})
	}

	h, ok := c.Mux.IQHandler(iq.Type, payloadStart.Name)
	if !ok {
		return c.replyIQError(iq, stanza.Error{Type: stanza.Cancel, Condition: stanza.FeatureNotImplemented})
	}

	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{d, c}

	if err := h(iq, rw, &payloadStart); err != nil {
		var se stanza.Error
		if errors.As(err, &se) {
			return c.replyIQError(iq, se)
		}
		_ = c.replyIQError(iq, stanza.Error{Type: stanza.Cancel, Condition: stanza.InternalServerError})
		return err
	}
	return nil
}

func (c *Client) replyIQError(iq stanza.IQ, se stanza.Error) error {
	_, err := xmlstream.Copy(c, iq.Error().Wrap(se.TokenReader()))
	return err
}

func (c *Client) dispatchMessage(msg stanza.Message, start xml.StartElement, d xml.TokenReader) error {
	payloadStart, hasPayload, err := firstChildAny(d)
	if err != nil {
		return err
	}
	if !hasPayload {
		c.dispatchMessageByType(msg)
		return nil
	}
	h, ok := c.Mux.MessageHandler(payloadStart.Name)
	if !ok {
		c.dispatchMessageByType(msg)
		return nil
	}
	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{d, c}
	return h(msg, rw, &payloadStart)
}

// firstChildAny is firstChild generalized over xml.TokenReader, needed
// because dispatchMessage is also reached from the QoS engine's redelivery
// path with a standalone in-memory decoder rather than the live stream's.
func firstChildAny(d xml.TokenReader) (start xml.StartElement, ok bool, err error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, nil
		case xml.EndElement:
			return xml.StartElement{}, false, nil
		}
	}
}

func (c *Client) dispatchPresence(start xml.StartElement, d *xml.Decoder) error {
	p, err := stanza.NewPresence(start)
	if err != nil {
		return err
	}
	switch p.Type {
	case stanza.AvailablePresence, stanza.UnavailablePresence:
		if !p.From.IsZero() && c.Roster != nil {
			c.Roster.UpdatePresence(p.From, p)
		}
	default:
		c.dispatchPresenceByType(p)
	}
	if c.presenceSub != nil {
		c.presenceSub(p)
	}
	return nil
}

// OnPresence registers f to be called for every inbound presence stanza,
// after the roster's last_presence cache has been updated.
func (c *Client) OnPresence(f func(stanza.Presence)) {
	c.presenceSub = f
}

// wrapDecoder replays a payload's own start tag (already consumed off of d
// by firstChild) before continuing from d, so a consumer expecting a
// self-contained element tree sees the whole thing from the top.
type wrapDecoder struct {
	d        *xml.Decoder
	start    xml.StartElement
	replayed bool
}

func newWrapDecoder(d *xml.Decoder, start xml.StartElement) *wrapDecoder {
	return &wrapDecoder{d: d, start: start}
}

func (w *wrapDecoder) Token() (xml.Token, error) {
	if !w.replayed {
		w.replayed = true
		return w.start, nil
	}
	return w.d.Token()
}

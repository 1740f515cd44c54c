package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"strata.im/xmpp/disco"
	"strata.im/xmpp/form"
	"strata.im/xmpp/internal/attr"
	"strata.im/xmpp/internal/ns"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/qos"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/roster"
	"strata.im/xmpp/stanza"
	"strata.im/xmpp/stream"
	"strata.im/xmpp/xmppio"
)

// Client is a single connection to an XMPP server: the connection state
// machine (C6) plus the shared machinery every boundary-glue package is
// wired against (the handler registry C3, the pending-request table C4,
// the write serializer C5). Use Dial to construct one.
type Client struct {
	opts *Options

	conn net.Conn
	tlsState tls.ConnectionState
	hasTLS   bool

	tok    *stream.Tokenizer
	header string

	out  *xmppio.Serializer
	Mux  *mux.Registry
	Reqs *reqtable.Table
	QoS  *qos.Engine
	Roster *roster.Roster

	discoReg      *disco.Registry
	formUpdateSub func(stanza.Message, form.Data)
	presenceSub   func(stanza.Presence)
	reconnectSub  func(*Client, error)
	events        events

	origin   jid.JID // the configured bare JID, pre-bind
	bound    jid.JID // the full JID assigned by resource binding

	mechanism string

	stateMu   sync.RWMutex
	state     State
	stateSubs []func(State)

	closeOnce sync.Once
}

// Dial opens a connection to the server named by opts and drives the full
// handshake through resource binding (spec §4.6): TCP connect, stream open,
// STARTTLS upgrade, SASL authentication, a fresh stream restart, and
// resource binding, then the roster fetch (when RequestRosterOnStartup is
// set) and initial presence, matching the state sequence in state.go. A
// Client that Dial returns is in the Connected state; Serve then processes
// steady-state traffic.
func Dial(ctx context.Context, opts *Options) (*Client, error) {
	c := &Client{
		opts:   opts,
		origin: opts.User,
		Mux:    mux.New(),
		Roster: roster.New(),
	}
	c.setState(Connecting)

	conn, host, err := dialTransport(ctx, opts)
	if err != nil {
		c.setState(Error)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.conn = conn
	if opts.Host == "" {
		opts.Host = host
	}

	c.out = xmppio.NewSerializer(conn, c.sniff, func(err error) { c.setState(Error); c.fireConnError(err) })
	c.Reqs = reqtable.New(c.writeSync, time.Duration(opts.KeepAliveSeconds)*time.Second)
	c.QoS = qos.New(c.writeSync, c.Reqs, c.Roster, qos.Limits{
		MaxPerSource: opts.MaxAssuredMessagesPendingFromSource,
		MaxTotal:     opts.MaxAssuredMessagesPendingTotal,
	}, c.deliverLocal)
	c.installDefaultHandlers()

	c.setState(StreamNegotiation)
	if err := c.openStream(); err != nil {
		c.setState(Error)
		return nil, err
	}

	features, err := c.readFeatures()
	if err != nil {
		if next, ok := seeOtherHost(err); ok {
			_ = conn.Close()
			opts.Host = next
			return Dial(ctx, opts)
		}
		c.setState(Error)
		return nil, err
	}

	if features.startTLS {
		c.setState(StartingEncryption)
		if err := c.upgradeTLS(); err != nil {
			c.setState(Error)
			return nil, fmt.Errorf("%w: %v", ErrTLSHandshake, err)
		}
		if err := c.openStream(); err != nil {
			c.setState(Error)
			return nil, err
		}
		features, err = c.readFeatures()
		if err != nil {
			if next, ok := seeOtherHost(err); ok {
				_ = c.conn.Close()
				opts.Host = next
				return Dial(ctx, opts)
			}
			c.setState(Error)
			return nil, err
		}
	}

	c.setState(Authenticating)
	result, err := negotiateAuth(ctx, c, features.mechanisms)
	if err != nil {
		if ibrErr, ok := err.(SASLError); ok && ibrErr == SASLNotAuthorized && opts.AllowRegistration && features.register {
			c.setState(Registering)
			// Options.RegisterForm answers the registration-form event
			// synchronously (see its doc comment for why this can't be a
			// post-construction Client subscription), then the freshly
			// registered account authenticates on a brand new connection:
			// the current stream has already committed to the failed
			// mechanism and RFC 6120 offers no way to retry in place.
			if rerr := c.performRegistration(); rerr != nil {
				c.setState(Error)
				_ = conn.Close()
				return nil, fmt.Errorf("xmpp: in-band registration failed: %w", rerr)
			}
			_ = conn.Close()
			return Dial(ctx, opts)
		}
		c.setState(Error)
		return nil, err
	}
	c.mechanism = result.mechanism

	if err := c.resetStream(); err != nil {
		c.setState(Error)
		return nil, err
	}
	if _, err := c.readFeatures(); err != nil {
		c.setState(Error)
		return nil, err
	}

	c.setState(Binding)
	bound, err := c.bindResource()
	if err != nil {
		c.setState(Error)
		return nil, err
	}
	c.bound = bound

	if opts.RequestRosterOnStartup {
		c.setState(FetchingRoster)
		if err := c.fetchRoster(); err != nil {
			c.setState(Error)
			return nil, err
		}
	}

	c.setState(SettingPresence)
	if err := c.sendInitialPresence(); err != nil {
		c.setState(Error)
		return nil, err
	}
	c.setState(Connected)
	return c, nil
}

// LocalAddr returns the full JID assigned by resource binding.
func (c *Client) LocalAddr() jid.JID { return c.bound }

// seeOtherHost reports whether err is a see-other-host stream error and, if
// so, the replacement host it carries (spec §4.6 "A see-other-host error
// causes the host to be replaced... and a fresh connect attempted").
func seeOtherHost(err error) (string, bool) {
	var se stanza.StreamError
	if errors.As(err, &se) && se.Condition == "see-other-host" && se.Host != "" {
		return se.Host, true
	}
	return "", false
}

// openStream writes the stream-open header and primes the tokenizer to
// read the server's matching header back.
func (c *Client) openStream() error {
	c.header = fmt.Sprintf(
		"<stream:stream to='%s' version='1.0' xml:lang='%s' xmlns='%s' xmlns:stream='%s'>",
		c.opts.User.Domainpart(), langOrDefault(c.opts.Lang.String()), ns.Client, ns.Stream,
	)
	if err := c.writeSync(c.header); err != nil {
		return err
	}
	c.tok = stream.NewTokenizer(c.conn)
	hdr, err := c.tok.Next()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	_ = hdr // the server's own header text isn't needed beyond having been consumed
	return nil
}

func langOrDefault(tag string) string {
	if tag == "" || tag == "und" {
		return "en"
	}
	return tag
}

type featureSet struct {
	startTLS   bool
	mechanisms []string
	register   bool
}

// readFeatures reads and classifies the single <stream:features/> fragment
// every stage of the handshake expects next.
func (c *Client) readFeatures() (featureSet, error) {
	frag, err := c.tok.Next()
	if err != nil {
		return featureSet{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	start, d, err := stream.ParseFragment(c.header, frag.Text)
	if err != nil {
		return featureSet{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if start.Name.Local == "error" {
		se, serr := stanza.UnmarshalStreamError(d, start)
		if serr != nil {
			return featureSet{}, fmt.Errorf("%w: %v", ErrParse, serr)
		}
		return featureSet{}, se
	}
	if start.Name.Local != "features" {
		return featureSet{}, fmt.Errorf("%w: expected stream features, got %s", ErrParse, start.Name.Local)
	}

	var raw struct {
		StartTLS *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
		Mechanisms struct {
			Mechanism []string `xml:"mechanism"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
		Register *struct{} `xml:"jabber:iq:register register"`
	}
	if err := d.Decode(&raw); err != nil {
		return featureSet{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return featureSet{
		startTLS:   raw.StartTLS != nil,
		mechanisms: raw.Mechanisms.Mechanism,
		register:   raw.Register != nil,
	}, nil
}

// upgradeTLS drives the in-band STARTTLS exchange (spec §4.6 item 1) and
// replaces c.conn with the upgraded connection.
func (c *Client) upgradeTLS() error {
	if err := c.writeSync(fmt.Sprintf("<starttls xmlns='%s'/>", ns.StartTLS)); err != nil {
		return err
	}
	frag, err := c.tok.Next()
	if err != nil {
		return err
	}
	start, _, err := stream.ParseFragment(c.header, frag.Text)
	if err != nil {
		return err
	}
	if start.Name.Local != "proceed" {
		return fmt.Errorf("%w: server refused starttls", ErrTLSHandshake)
	}

	tlsConn := tls.Client(c.conn, c.opts.tlsConfig())
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return err
	}
	c.conn = tlsConn
	c.tlsState = tlsConn.ConnectionState()
	c.hasTLS = true

	if err := c.out.Close(); err != nil {
		return err
	}
	c.out = xmppio.NewSerializer(tlsConn, c.sniff, func(err error) { c.setState(Error); c.fireConnError(err) })
	return nil
}

// resetStream restarts the XML stream over the same (now-authenticated)
// transport without tearing down the TCP/TLS connection, per RFC 6120
// §4.3.3 and the Open Question decision recorded in DESIGN.md: openStream
// writes a fresh header and replaces the tokenizer, and the steps that
// follow (readFeatures, bindResource, ...) read the new stream. Nothing else
// on c is reset: the negotiated SASL mechanism, the TLS state, the
// pending-request table, the roster and the handler registrations are kept.
func (c *Client) resetStream() error {
	return c.openStream()
}

// bindResource performs RFC 6120 §7 resource binding, requesting
// opts.User's resourcepart if set, or a server-generated one otherwise.
func (c *Client) bindResource() (jid.JID, error) {
	id := attr.RandomID()
	var body string
	if res := c.opts.User.Resourcepart(); res != "" {
		body = fmt.Sprintf("<iq id='%s' type='set'><bind xmlns='%s'><resource>%s</resource></bind></iq>", id, ns.Bind, res)
	} else {
		body = fmt.Sprintf("<iq id='%s' type='set'><bind xmlns='%s'/></iq>", id, ns.Bind)
	}
	if err := c.writeSync(body); err != nil {
		return jid.JID{}, err
	}

	frag, err := c.tok.Next()
	if err != nil {
		return jid.JID{}, err
	}
	start, d, err := stream.ParseFragment(c.header, frag.Text)
	if err != nil {
		return jid.JID{}, err
	}
	var resp struct {
		Type string `xml:"type,attr"`
		Bind struct {
			JID string `xml:"jid"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	}
	if err := d.DecodeElement(&resp, &start); err != nil {
		return jid.JID{}, err
	}
	if resp.Type != "result" {
		return jid.JID{}, fmt.Errorf("%w: resource binding failed", ErrNotConnected)
	}
	return jid.Parse(resp.Bind.JID)
}

// nextFragmentDecoder reads the next top-level fragment and parses it,
// returning its root start element and a decoder positioned to read its
// children (the convention auth.go's negotiateAuth and the steady-state
// dispatcher both rely on).
func (c *Client) nextFragmentDecoder() (xml.StartElement, *xml.Decoder, error) {
	frag, err := c.tok.Next()
	if err != nil {
		return xml.StartElement{}, nil, err
	}
	return stream.ParseFragment(c.header, frag.Text)
}

// writeSync submits text to the write serializer and blocks until it has
// been written (or failed), per C5's single-writer contract.
func (c *Client) writeSync(text string) error {
	if c.out == nil {
		return ErrNotConnected
	}
	done := make(chan error, 1)
	if err := c.out.Submit(text, func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}

// connState reports the negotiated TLS connection state, for SASL
// mechanisms that bind to the channel (e.g. SCRAM's channel binding).
func (c *Client) connState() (tls.ConnectionState, bool) {
	return c.tlsState, c.hasTLS
}

// sniff feeds every outbound fragment to the configured diagnostic logger
// (spec §4.5). Inbound fragments are not passed to the logger.
func (c *Client) sniff(text string) {
	if c.opts.Logger != nil {
		c.opts.Logger.Printf("out: %s", text)
	}
}

// EncodeToken implements xmlstream.TokenWriter by serializing tok directly
// onto the live connection through the write serializer, so that a mux
// handler (C3) can write a reply without buffering a whole document.
func (c *Client) EncodeToken(tok xml.Token) error {
	var buf []byte
	enc := xml.NewEncoder(sliceWriter{&buf})
	if err := enc.EncodeToken(tok); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	return c.writeSync(string(buf))
}

// Flush satisfies xmlstream.TokenWriter. writeSync already blocks until the
// serializer has written the token's text, so there is nothing left to
// flush.
func (c *Client) Flush() error { return nil }

type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// Close ends the connection (spec §3 "hard_offline"): the write serializer
// and transport are closed and the state machine moves to Offline. Close is
// safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.out != nil {
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

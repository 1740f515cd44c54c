// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp implements an XMPP client: the connection state machine that
// drives the TCP → STARTTLS → SASL → resource binding → session handshake
// (C6), and the dispatcher that routes parsed stanzas to the handler
// registry, the pending-request table and the QoS engine (C8).
package xmpp

import (
	"log"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/text/language"

	"strata.im/xmpp/ibr"
	"strata.im/xmpp/jid"
)

// HashMethod names a password-hashing algorithm supplied out of band by the
// caller (spec §6 "password | (password_hash, hash_method)"), so that a
// plaintext password never needs to be held by a caller that already has a
// hash on file.
type HashMethod string

// Options collects every configured option named by spec §6. The zero
// value is not directly useful; use New with functional options, which
// fills in the documented defaults.
type Options struct {
	Host string
	Port uint16

	User jid.JID

	// Password authenticates User. PasswordHash/HashMethod may be supplied
	// instead when the caller only has a pre-computed hash on file; SASL
	// mechanisms that need the plaintext (PLAIN) require Password.
	Password     string
	PasswordHash string
	HashMethod   HashMethod

	Lang language.Tag

	// TrustServer accepts a TLS certificate that fails policy validation
	// (spec §4.6 item 1). Off by default; only meant for testing against
	// self-signed deployments.
	TrustServer bool

	AllowPlain     bool
	AllowCRAMMD5   bool
	AllowDigestMD5 bool
	AllowSCRAMSHA1 bool

	KeepAliveSeconds int

	DefaultRetryTimeout   time.Duration
	DefaultNrRetries      int
	DefaultDropOff        bool
	DefaultMaxRetryTimeout time.Duration

	MaxAssuredMessagesPendingFromSource int
	MaxAssuredMessagesPendingTotal      int

	RequestRosterOnStartup bool

	// AllowRegistration permits falling back to in-band registration (XEP-0077)
	// when SASL authentication fails because the account does not exist
	// (spec §4.6 item 2).
	AllowRegistration bool

	FormSignatureKey    string
	FormSignatureSecret string

	// RegisterForm answers the provider's in-band registration form (spec §6
	// "registration form" event) with the fields to submit, or reports ok=false
	// to decline and fail the connection. Dial calls it synchronously, from
	// within the handshake, the moment SASL authentication fails for want of
	// an account and AllowRegistration is set: there is no Client yet for a
	// post-construction event subscription to attach to, so the form is
	// surfaced through this configured hook instead.
	RegisterForm func(ibr.Form) (ibr.Submission, bool)

	// Dialer optionally proxies the initial TCP dial (SOCKS/HTTP CONNECT),
	// mirroring the teacher's own Dialer wrapping of net.Dialer.
	Dialer proxy.Dialer

	// Logger, if non-nil, is the sniffer/diagnostic sink: every outbound
	// fragment is written to it before it is queued for the transport
	// (spec §4.5). Inbound fragments are not written to it.
	Logger *log.Logger
}

// Option configures an Options value. Used with New.
type Option func(*Options)

// New builds an Options value from the documented defaults (spec §6),
// then applies opts in order.
func New(opts ...Option) *Options {
	o := &Options{
		KeepAliveSeconds:                    30,
		DefaultRetryTimeout:                 2000 * time.Millisecond,
		DefaultNrRetries:                    5,
		DefaultDropOff:                      true,
		DefaultMaxRetryTimeout:              0, // 0 means unbounded ("∞" in spec §6)
		MaxAssuredMessagesPendingFromSource: 5,
		MaxAssuredMessagesPendingTotal:      100,
		RequestRosterOnStartup:              true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHost sets the server host and port to dial.
func WithHost(host string, port uint16) Option {
	return func(o *Options) { o.Host, o.Port = host, port }
}

// WithCredentials sets the authenticating user and plaintext password.
func WithCredentials(user jid.JID, password string) Option {
	return func(o *Options) { o.User, o.Password = user, password }
}

// WithPasswordHash sets a pre-computed password hash in lieu of a plaintext
// password, for mechanisms that support it.
func WithPasswordHash(hash string, method HashMethod) Option {
	return func(o *Options) { o.PasswordHash, o.HashMethod = hash, method }
}

// ChangePassword updates o's stored credential to password, invalidating
// any previously configured PasswordHash/HashMethod: a stale hash must
// never outlive the plaintext password it was computed from.
func (o *Options) ChangePassword(password string) {
	o.Password = password
	o.PasswordHash = ""
	o.HashMethod = ""
}

// WithLang sets the default xml:lang of the stream header.
func WithLang(tag language.Tag) Option {
	return func(o *Options) { o.Lang = tag }
}

// WithTrustServer accepts TLS certificates that fail policy validation.
func WithTrustServer(trust bool) Option {
	return func(o *Options) { o.TrustServer = trust }
}

// WithSASLMechanisms enables or disables individual SASL mechanisms. Unset
// mechanisms default to false except where noted (spec §6: allow_plain
// defaults false).
func WithSASLMechanisms(plain, cramMD5, digestMD5, scramSHA1 bool) Option {
	return func(o *Options) {
		o.AllowPlain, o.AllowCRAMMD5, o.AllowDigestMD5, o.AllowSCRAMSHA1 = plain, cramMD5, digestMD5, scramSHA1
	}
}

// WithKeepAlive sets keep_alive_seconds; C4 pings at half this interval.
func WithKeepAlive(seconds int) Option {
	return func(o *Options) { o.KeepAliveSeconds = seconds }
}

// WithRetryPolicy sets the default IQ retry policy used by SendIQ-style
// helpers that don't specify their own.
func WithRetryPolicy(timeout time.Duration, nrRetries int, dropOff bool, maxTimeout time.Duration) Option {
	return func(o *Options) {
		o.DefaultRetryTimeout = timeout
		o.DefaultNrRetries = nrRetries
		o.DefaultDropOff = dropOff
		o.DefaultMaxRetryTimeout = maxTimeout
	}
}

// WithAssuredLimits sets the per-source and global admission limits for the
// assured-delivery QoS inventory.
func WithAssuredLimits(perSource, total int) Option {
	return func(o *Options) {
		o.MaxAssuredMessagesPendingFromSource = perSource
		o.MaxAssuredMessagesPendingTotal = total
	}
}

// WithRosterOnStartup controls whether the roster is fetched automatically
// during the connection handshake.
func WithRosterOnStartup(fetch bool) Option {
	return func(o *Options) { o.RequestRosterOnStartup = fetch }
}

// WithRegistration allows falling back to in-band registration (XEP-0077)
// when SASL authentication fails for want of an account.
func WithRegistration(allow bool) Option {
	return func(o *Options) { o.AllowRegistration = allow }
}

// WithFormSignature stores a form-signature key and secret in
// FormSignatureKey and FormSignatureSecret. Nothing in this module reads
// them: registration forms are submitted unsigned.
func WithFormSignature(key, secret string) Option {
	return func(o *Options) { o.FormSignatureKey, o.FormSignatureSecret = key, secret }
}

// WithRegisterForm sets the callback that answers an in-band registration
// form during the connection handshake; see Options.RegisterForm.
func WithRegisterForm(f func(ibr.Form) (ibr.Submission, bool)) Option {
	return func(o *Options) { o.RegisterForm = f }
}

// WithDialer sets a proxying Dialer (SOCKS5, HTTP CONNECT, ...) for the
// initial TCP connection.
func WithDialer(d proxy.Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

// WithLogger sets the sniffer/diagnostic sink.
func WithLogger(l *log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

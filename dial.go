// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package xmpp

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// dialTransport opens the initial plain TCP connection described by opts
// (spec §6 "Transport. TCP to (host, port), plain initially"). When
// opts.Host is set explicitly it is dialed directly; otherwise the
// client's domainpart drives an SRV lookup for the standard
// "_xmpp-client._tcp" service, falling back to the bare domain on port
// 5222 if no SRV records are published.
func dialTransport(ctx context.Context, opts *Options) (net.Conn, string, error) {
	host, port := opts.Host, opts.Port
	if host == "" {
		domain := opts.User.Domainpart()
		if domain == "" {
			return nil, "", fmt.Errorf("xmpp: no host configured and no domain on User JID")
		}
		var err error
		host, port, err = lookupXMPPClient(ctx, domain)
		if err != nil {
			return nil, "", err
		}
	}
	if port == 0 {
		port = 5222
	}
	addr := net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))

	if opts.Dialer != nil {
		conn, err := opts.Dialer.Dial("tcp", addr)
		return conn, host, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	return conn, host, err
}

// lookupXMPPClient resolves the standard c2s SRV record for domain. The
// teacher's own internal.LookupService helper isn't usable from this
// snapshot of the module (its dial.go references a LookupService that no
// longer exists in internal/lookup.go), so SRV resolution is implemented
// directly against the standard resolver; see DESIGN.md.
func lookupXMPPClient(ctx context.Context, domain string) (string, uint16, error) {
	_, addrs, err := net.DefaultResolver.LookupSRV(ctx, "xmpp-client", "tcp", domain)
	if err != nil || len(addrs) == 0 {
		return domain, 5222, nil
	}
	target := addrs[0]
	host := target.Target
	for len(host) > 0 && host[len(host)-1] == '.' {
		host = host[:len(host)-1]
	}
	return host, target.Port, nil
}

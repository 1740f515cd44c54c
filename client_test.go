package xmpp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/stream"
)

const (
	fakeServerHeader = `<stream:stream xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:client' from='example.com' id='fake' version='1.0'>`
	fakeFeaturesTLS  = `<stream:features><starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`
	fakeProceed      = `<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`
	fakeFeaturesAuth = `<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`
	fakeSuccess      = `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`
	fakeFeaturesBind = `<stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/></stream:features>`
	fakeBindResult   = `<iq id='bind1' type='result'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>user@example.com/fake-resource</jid></bind></iq>`
)

// generateSelfSignedCert builds an in-memory certificate for the fake
// server's STARTTLS handshake. Options.TrustServer skips chain/hostname
// validation client-side, so the certificate only needs to be well-formed,
// not signed by any recognized authority.
func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "example.com"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}),
	)
	if err != nil {
		t.Fatalf("build tls certificate: %v", err)
	}
	return cert
}

// scriptedDialer satisfies golang.org/x/net/proxy.Dialer (Options.Dialer's
// type) with one net.Pipe per attempt, so the handshake can be driven by a
// hand-written fake server instead of a real socket, grounded on
// conn_test.go's bare-io.ReadWriter fake-connection pattern.
type scriptedDialer struct {
	mu        sync.Mutex
	n         int
	onAttempt func(attempt int, addr string, serverConn net.Conn)
}

func (d *scriptedDialer) Dial(network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.n++
	attempt := d.n
	d.mu.Unlock()

	clientConn, serverConn := net.Pipe()
	d.onAttempt(attempt, addr, serverConn)
	return clientConn, nil
}

// runHappyPathServer plays the server side of spec §8 scenario 1
// (STARTTLS upgrade, PLAIN auth, resource binding) by hand over conn,
// closing conn when finished or on error.
func runHappyPathServer(t *testing.T, conn net.Conn, cert tls.Certificate) {
	defer conn.Close()

	tokA := stream.NewTokenizer(conn)
	if _, err := tokA.Next(); err != nil {
		t.Errorf("fake server: read client header: %v", err)
		return
	}
	if _, err := io.WriteString(conn, fakeServerHeader); err != nil {
		t.Errorf("fake server: write header: %v", err)
		return
	}
	if _, err := io.WriteString(conn, fakeFeaturesTLS); err != nil {
		t.Errorf("fake server: write features: %v", err)
		return
	}
	if _, err := tokA.Next(); err != nil {
		t.Errorf("fake server: read starttls: %v", err)
		return
	}
	if _, err := io.WriteString(conn, fakeProceed); err != nil {
		t.Errorf("fake server: write proceed: %v", err)
		return
	}

	tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err := tlsConn.Handshake(); err != nil {
		t.Errorf("fake server: tls handshake: %v", err)
		return
	}

	tokC := stream.NewTokenizer(tlsConn)
	if _, err := tokC.Next(); err != nil {
		t.Errorf("fake server: read post-tls header: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeServerHeader); err != nil {
		t.Errorf("fake server: write post-tls header: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeFeaturesAuth); err != nil {
		t.Errorf("fake server: write auth features: %v", err)
		return
	}
	if _, err := tokC.Next(); err != nil {
		t.Errorf("fake server: read auth: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeSuccess); err != nil {
		t.Errorf("fake server: write success: %v", err)
		return
	}

	tokD := stream.NewTokenizer(tlsConn)
	if _, err := tokD.Next(); err != nil {
		t.Errorf("fake server: read post-auth header: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeServerHeader); err != nil {
		t.Errorf("fake server: write post-auth header: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeFeaturesBind); err != nil {
		t.Errorf("fake server: write bind features: %v", err)
		return
	}
	if _, err := tokD.Next(); err != nil {
		t.Errorf("fake server: read bind iq: %v", err)
		return
	}
	if _, err := io.WriteString(tlsConn, fakeBindResult); err != nil {
		t.Errorf("fake server: write bind result: %v", err)
		return
	}

	// Drain whatever the client writes next (initial presence, and
	// anything Close sends) so its synchronous writes never block.
	for {
		if _, err := tokD.Next(); err != nil {
			return
		}
	}
}

// runSeeOtherHostServer plays the server side of spec §8 scenario 5: it
// answers the opening stream with a fatal see-other-host error instead of
// features, pointing the client at redirectHost.
func runSeeOtherHostServer(t *testing.T, conn net.Conn, redirectHost string) {
	defer conn.Close()
	tok := stream.NewTokenizer(conn)
	if _, err := tok.Next(); err != nil {
		t.Errorf("fake server: read client header: %v", err)
		return
	}
	if _, err := io.WriteString(conn, fakeServerHeader); err != nil {
		t.Errorf("fake server: write header: %v", err)
		return
	}
	errText := `<stream:error><see-other-host xmlns='urn:ietf:params:xml:ns:xmpp-streams'>` + redirectHost + `</see-other-host></stream:error>`
	if _, err := io.WriteString(conn, errText); err != nil {
		t.Errorf("fake server: write see-other-host: %v", err)
		return
	}
}

func TestDialHappyPathReachesConnected(t *testing.T) {
	cert := generateSelfSignedCert(t)
	dialer := &scriptedDialer{}
	dialer.onAttempt = func(attempt int, addr string, serverConn net.Conn) {
		go runHappyPathServer(t, serverConn, cert)
	}

	opts := &Options{
		Host:        "example.com",
		User:        jid.MustParse("user@example.com"),
		Password:    "pass",
		AllowPlain:  true,
		TrustServer: true,
		Dialer:      dialer,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if c.State() != Connected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	if got, want := c.LocalAddr().String(), "user@example.com/fake-resource"; got != want {
		t.Fatalf("LocalAddr = %q, want %q", got, want)
	}
}

func TestDialSeeOtherHostRedirectsAndReconnects(t *testing.T) {
	cert := generateSelfSignedCert(t)
	dialer := &scriptedDialer{}
	var sawSecondAddr string
	dialer.onAttempt = func(attempt int, addr string, serverConn net.Conn) {
		switch attempt {
		case 1:
			go runSeeOtherHostServer(t, serverConn, "mirror.example.org")
		default:
			sawSecondAddr = addr
			go runHappyPathServer(t, serverConn, cert)
		}
	}

	opts := &Options{
		Host:        "example.com",
		User:        jid.MustParse("user@example.com"),
		Password:    "pass",
		AllowPlain:  true,
		TrustServer: true,
		Dialer:      dialer,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if c.State() != Connected {
		t.Fatalf("state = %v, want Connected", c.State())
	}
	if !strings.Contains(sawSecondAddr, "mirror.example.org") {
		t.Fatalf("expected the second dial attempt to target the redirected host, got %q", sawSecondAddr)
	}
	if opts.Password != "pass" {
		t.Fatalf("expected credentials to survive the redirect, got password %q", opts.Password)
	}
}

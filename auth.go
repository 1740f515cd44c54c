package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"

	"mellium.im/sasl"
	"strata.im/xmpp/internal/ns"
)

// candidateMechanisms returns the mechanisms this client is willing to
// offer, in priority order: SCRAM-SHA-1 (if AllowSCRAMSHA1), then PLAIN (if
// AllowPlain). The SASL mechanism implementations themselves are an
// external collaborator (spec §1); mellium.im/sasl supplies PLAIN and the
// SCRAM family. DIGEST-MD5 and CRAM-MD5 are deprecated (RFC 6331) and
// mellium.im/sasl does not implement them, so they are never offered:
// AllowDigestMD5 and AllowCRAMMD5 are not read here; see DESIGN.md.
func (o *Options) candidateMechanisms() []sasl.Mechanism {
	var out []sasl.Mechanism
	if o.AllowSCRAMSHA1 {
		out = append(out, sasl.ScramSha1)
	}
	if o.AllowPlain {
		out = append(out, sasl.Plain)
	}
	return out
}

// authResult is what negotiateAuth reports back to the state machine.
type authResult struct {
	mechanism string
	identity  string
}

// negotiateAuth drives SASL authentication to completion over c, which must
// already be framed at the XMPP stream level (writes go straight to the
// wire; reads come from d). offered is the list of mechanism names the
// server advertised in <mechanisms/>. It returns the negotiated mechanism
// name and identity on success, or a SASLError / ErrNoAcceptableMechanism
// on failure, grounded on the teacher's sasl.go Negotiate closure.
func negotiateAuth(ctx context.Context, c *Client, offered []string) (authResult, error) {
	candidates := c.opts.candidateMechanisms()
	var selected sasl.Mechanism
	for _, m := range candidates {
		for _, name := range offered {
			if name == m.Name {
				selected = m
				break
			}
		}
		if selected.Name != "" {
			break
		}
	}
	if selected.Name == "" {
		return authResult{}, ErrNoAcceptableMechanism
	}

	identity := c.opts.User.Localpart()
	saslOpts := []sasl.Option{
		sasl.Credentials(identity, c.opts.Password),
		sasl.RemoteMechanisms(offered...),
	}
	if cs, ok := c.connState(); ok {
		saslOpts = append(saslOpts, sasl.ConnState(cs))
	}
	client := sasl.NewClient(selected, saslOpts...)

	more, resp, err := client.Step(nil)
	if err != nil {
		return authResult{}, err
	}
	if len(resp) == 0 {
		resp = []byte{'='}
	}

	if err := c.writeSync(fmt.Sprintf(`<auth xmlns='%s' mechanism='%s'>%s</auth>`, ns.SASL, selected.Name, resp)); err != nil {
		return authResult{}, err
	}

	for {
		start, d, err := c.nextFragmentDecoder()
		if err != nil {
			return authResult{}, err
		}
		challenge, success, failure, err := decodeSASLStep(d, start)
		if err != nil {
			return authResult{}, err
		}
		if failure != (SASLError{}) {
			return authResult{}, failure
		}
		if success {
			return authResult{mechanism: selected.Name, identity: identity}, nil
		}
		more, resp, err = client.Step(challenge)
		if err != nil {
			return authResult{}, err
		}
		if !more {
			continue
		}
		if err := c.writeSync(fmt.Sprintf(`<response xmlns='%s'>%s</response>`, ns.SASL, resp)); err != nil {
			return authResult{}, err
		}
	}
}

// decodeSASLStep reads a <challenge/>, <success/> or <failure/> element.
func decodeSASLStep(d *xml.Decoder, start xml.StartElement) (challenge []byte, success bool, failure SASLError, err error) {
	switch start.Name.Local {
	case "challenge", "success":
		var body struct {
			Data []byte `xml:",chardata"`
		}
		if err = d.DecodeElement(&body, &start); err != nil {
			return nil, false, SASLError{}, err
		}
		return body.Data, start.Name.Local == "success", SASLError{}, nil
	case "failure":
		var body struct {
			XMLName xml.Name
			Cond    struct {
				XMLName xml.Name
			} `xml:",any"`
		}
		if err = d.DecodeElement(&body, &start); err != nil {
			return nil, false, SASLError{}, err
		}
		return nil, false, SASLError{Condition: body.Cond.XMLName.Local}, nil
	default:
		return nil, false, SASLError{}, ErrParse
	}
}

// tlsConfig builds the client TLS configuration for the STARTTLS upgrade
// (spec §4.6 item 1): server name is the original host, and policy errors
// are accepted when TrustServer is set.
func (o *Options) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         o.Host,
		InsecureSkipVerify: o.TrustServer,
		MinVersion:         tls.VersionTLS12,
	}
}

// Package version implements XEP-0092 Software Version: a default iq-get
// handler answering queries about this client, and a Get helper for asking
// a remote entity the same question, grounded on the teacher's version
// package but adapted from its *xmpp.Session-based blocking call to this
// module's reqtable-based pending-request table (C4).
package version

import (
	"bytes"
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

// NS is the jabber:iq:version namespace.
const NS = "jabber:iq:version"

// Query is the payload of a software version query or response.
type Query struct {
	Name    string
	Version string
	OS      string
}

func (q Query) tokenReader() xml.TokenReader {
	var payloads []xml.TokenReader
	add := func(local, val string) {
		if val == "" {
			return
		}
		payloads = append(payloads, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(val)),
			xml.StartElement{Name: xml.Name{Local: local}},
		))
	}
	add("name", q.Name)
	add("version", q.Version)
	add("os", q.OS)
	return xmlstream.Wrap(xmlstream.MultiReader(payloads...), xml.StartElement{
		Name: xml.Name{Space: NS, Local: "query"},
	})
}

// decodeQuery decodes payload, the full token stream of the response's
// first child element (opening tag through closing tag, the convention
// reqtable.Callback hands every caller).
func decodeQuery(payload xml.TokenReader) (Query, error) {
	var raw struct {
		Name    string `xml:"name"`
		Version string `xml:"version"`
		OS      string `xml:"os"`
	}
	if err := xml.NewTokenDecoder(payload).Decode(&raw); err != nil {
		return Query{}, err
	}
	return Query{Name: raw.Name, Version: raw.Version, OS: raw.OS}, nil
}

// Handler returns the default iq-get handler advertising this client's own
// identity. It is registered as a Service Discovery feature (invariant I3).
func Handler(self Query) mux.IQHandler {
	return func(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		_, err := xmlstream.Copy(t, iq.Result().Wrap(self.tokenReader()))
		return err
	}
}

// Get asynchronously requests the software version of to over reqs (C4),
// invoking cb with the decoded Query on success, or a zero Query and an
// error (including reqtable's synthesized recipient-unavailable) on
// failure.
func Get(reqs *reqtable.Table, to jid.JID, cb func(Query, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start := xml.StartElement{Name: xml.Name{Space: NS, Local: "query"}}
	_ = enc.EncodeToken(start)
	_ = enc.EncodeToken(start.End())
	_ = enc.Flush()

	return reqs.SendIQ(stanza.GetIQ, to, buf.String(), func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(Query{}, err)
			return
		}
		q, decErr := decodeQuery(payload)
		cb(q, decErr)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

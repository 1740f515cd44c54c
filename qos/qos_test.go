package qos_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/qos"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

type fakeRoster struct{ members map[string]bool }

func (f fakeRoster) Contains(bare jid.JID) bool { return f.members[bare.String()] }

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return j
}

// runIQSet drives handler over a synthesized inbound iq-set, capturing
// whatever it writes back, mirroring how the dispatcher (C8) would invoke a
// mux.IQHandler.
func runIQSet(t *testing.T, h func(stanza.IQ, xmlstream.TokenReadEncoder, *xml.StartElement) error, iq stanza.IQ, start xml.StartElement, body string) string {
	t.Helper()
	// <payload> stands in for the <assured>/<acknowledged>/<deliver> wrapper
	// element; body is its content, matching the convention that t continues
	// right after the already-extracted start tag.
	doc := "<root><payload>" + body + "</payload></root>"
	d := xml.NewDecoder(strings.NewReader(doc))
	if _, err := d.Token(); err != nil { // consume <root>
		t.Fatalf("advance root: %v", err)
	}
	payloadStart, err := d.Token() // consume <payload>, t continues after it
	if err != nil {
		t.Fatalf("read payload start: %v", err)
	}
	se := payloadStart.(xml.StartElement)
	se.Attr = append(se.Attr, start.Attr...)

	var out bytes.Buffer
	enc := xml.NewEncoder(&out)
	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{d, enc}

	if err := h(iq, rw, &se); err != nil {
		t.Fatalf("handler: %v", err)
	}
	_ = enc.Flush()
	return out.String()
}

func TestAssuredAdmissionRejectsUnknownSender(t *testing.T) {
	roster := fakeRoster{members: map[string]bool{}}
	eng := qos.New(func(string) error { return nil }, reqtable.New(func(string) error { return nil }, 0), roster, qos.Limits{MaxPerSource: 5, MaxTotal: 100}, nil)

	from := mustJID(t, "stranger@x")
	iq := stanza.IQ{ID: "a1", Type: stanza.SetIQ, From: from}
	start := xml.StartElement{Attr: []xml.Attr{{Name: xml.Name{Local: "msgId"}, Value: "M"}}}

	got := runIQSet(t, eng.AssuredHandler(), iq, start, "<message>hi</message>")
	if !strings.Contains(got, "not-allowed") {
		t.Fatalf("expected not-allowed error, got %q", got)
	}
	if eng.Len() != 0 {
		t.Fatalf("inventory should be unchanged, got len %d", eng.Len())
	}
}

func TestAssuredHappyPathThenDeliver(t *testing.T) {
	roster := fakeRoster{members: map[string]bool{"stranger@x": true}}
	var delivered jid.JID
	var deliveredOnce int
	eng := qos.New(func(string) error { return nil }, reqtable.New(func(string) error { return nil }, 0), roster, qos.Limits{MaxPerSource: 5, MaxTotal: 100}, func(from jid.JID, _ xml.TokenReader) {
		delivered = from
		deliveredOnce++
	})

	from := mustJID(t, "stranger@x")
	iq := stanza.IQ{ID: "a1", Type: stanza.SetIQ, From: from}
	start := xml.StartElement{Attr: []xml.Attr{{Name: xml.Name{Local: "msgId"}, Value: "M"}}}

	got := runIQSet(t, eng.AssuredHandler(), iq, start, "<message>hi</message>")
	if !strings.Contains(got, "received") || !strings.Contains(got, "M") {
		t.Fatalf("expected <received msgId='M'/>, got %q", got)
	}
	if eng.Len() != 1 {
		t.Fatalf("expected one pending assured message, got %d", eng.Len())
	}

	got = runIQSet(t, eng.DeliverHandler(), iq, start, "")
	if !strings.Contains(got, "result") {
		t.Fatalf("expected iq-result, got %q", got)
	}
	if eng.Len() != 0 {
		t.Fatalf("expected inventory drained, got %d", eng.Len())
	}
	if deliveredOnce != 1 || delivered.String() != "stranger@x" {
		t.Fatalf("expected exactly one dispatch from stranger@x, got %d from %v", deliveredOnce, delivered)
	}
}

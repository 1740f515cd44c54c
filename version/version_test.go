package version_test

import (
	"bytes"
	"encoding/xml"
	"testing"

	"mellium.im/xmlstream"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/stanza"
	"strata.im/xmpp/version"
)

func TestHandlerRepliesWithOwnVersion(t *testing.T) {
	self := version.Query{Name: "strata", Version: "1.0", OS: "linux"}
	h := version.Handler(self)

	iq := stanza.IQ{ID: "v1", Type: stanza.GetIQ}
	start := &xml.StartElement{Name: xml.Name{Space: version.NS, Local: "query"}}

	var out bytes.Buffer
	enc := xml.NewEncoder(&out)
	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{xmlstream.Inner(xml.NewDecoder(bytes.NewReader(nil))), enc}

	if err := h(iq, rw, start); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := out.String()
	if !bytes.Contains([]byte(got), []byte("<query")) || !bytes.Contains([]byte(got), []byte("1.0")) {
		t.Fatalf("expected version reply containing query and version, got %q", got)
	}
}

func TestRegisterAsFeature(t *testing.T) {
	mx := mux.New()
	self := version.Query{Name: "strata"}
	if _, err := mx.RegisterIQGet("query", version.NS, version.Handler(self), true); err != nil {
		t.Fatalf("register: %v", err)
	}
	found := false
	for _, f := range mx.Features() {
		if f == version.NS {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in advertised features, got %v", version.NS, mx.Features())
	}
}

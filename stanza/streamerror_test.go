package stanza_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmlstream"
	"strata.im/xmpp/stanza"
)

func TestStreamErrorTokenReaderEncodesCondition(t *testing.T) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, stanza.Conflict.TokenReader()); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "conflict") {
		t.Fatalf("expected encoded condition %q in %q", "conflict", got)
	}
}

func TestSeeOtherHostRoundTrip(t *testing.T) {
	want := stanza.SeeOtherHost("other.example.org")

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, want.TokenReader()); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	d := xml.NewDecoder(strings.NewReader(buf.String()))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		t.Fatalf("expected start element, got %T", tok)
	}

	got, err := stanza.UnmarshalStreamError(d, start)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Condition != "see-other-host" {
		t.Fatalf("condition = %q, want see-other-host", got.Condition)
	}
	if got.Host != want.Host {
		t.Fatalf("host = %q, want %q", got.Host, want.Host)
	}
}

func TestStreamErrorImplementsError(t *testing.T) {
	var err error = stanza.NotAuthorized
	if !strings.Contains(err.Error(), "not-authorized") {
		t.Fatalf("Error() = %q, want it to mention not-authorized", err.Error())
	}
}

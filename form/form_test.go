package form_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmlstream"
	"strata.im/xmpp/form"
	"strata.im/xmpp/stanza"
)

func decodeX(t *testing.T, raw string) (xml.StartElement, *xml.Decoder) {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(raw))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		t.Fatalf("expected a start element, got %T", tok)
	}
	return start, d
}

func TestDecodeReadsTitleInstructionsAndFields(t *testing.T) {
	raw := `<x xmlns='jabber:x:data' type='form'>
		<title>Registration</title>
		<instructions>Fill this out</instructions>
		<field type='text-single' var='username' label='Username'>
			<value>kim</value>
		</field>
		<field type='list-single' var='color'>
			<option><value>red</value></option>
			<option><value>blue</value></option>
		</field>
	</x>`
	start, d := decodeX(t, raw)
	got, err := form.Decode(start, d)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != "form" || got.Title != "Registration" || got.Instructions != "Fill this out" {
		t.Fatalf("unexpected header fields: %+v", got)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(got.Fields))
	}
	if got.Fields[0].Var != "username" || got.Fields[0].Values[0] != "kim" {
		t.Fatalf("unexpected first field: %+v", got.Fields[0])
	}
	if len(got.Fields[1].Options) != 2 || got.Fields[1].Options[0] != "red" {
		t.Fatalf("unexpected option field: %+v", got.Fields[1])
	}
}

func TestDecodeMarksRequiredFields(t *testing.T) {
	raw := `<x xmlns='jabber:x:data' type='form'><field type='text-single' var='username'><required/></field></x>`
	start, d := decodeX(t, raw)
	got, err := form.Decode(start, d)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Fields) != 1 || !got.Fields[0].Required {
		t.Fatalf("expected the lone field to be marked required, got %+v", got.Fields)
	}
}

func TestTokenReaderEncodesTypeTitleAndFields(t *testing.T) {
	d := form.Data{
		Type:  "submit",
		Title: "Registration",
		Fields: []form.Field{
			{Type: "text-single", Var: "username", Values: []string{"kim"}},
		},
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, d.TokenReader()); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "jabber:x:data") {
		t.Fatalf("expected the data forms namespace in %q", got)
	}
	if !strings.Contains(got, "<title>Registration</title>") {
		t.Fatalf("expected the title element in %q", got)
	}
	if !strings.Contains(got, "var=\"username\"") && !strings.Contains(got, "var='username'") {
		t.Fatalf("expected the field's var attribute in %q", got)
	}
	if !strings.Contains(got, "<value>kim</value>") {
		t.Fatalf("expected the field's value in %q", got)
	}
}

func TestUpdateHandlerFiresOnUpdatedWithDecodedForm(t *testing.T) {
	raw := `<x xmlns='jabber:x:data' type='result'><field type='text-single' var='status'><value>online</value></field></x>`
	start, d := decodeX(t, raw)

	var gotMsg stanza.Message
	var gotData form.Data
	h := form.UpdateHandler(func(msg stanza.Message, data form.Data) {
		gotMsg = msg
		gotData = data
	})

	msg := stanza.Message{ID: "m1", Type: stanza.ChatMessage}
	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{d, nopTokenWriter{}}
	if err := h(msg, rw, &start); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if gotMsg.ID != "m1" {
		t.Fatalf("expected the handler to receive the original message, got %+v", gotMsg)
	}
	if gotData.Type != "result" || len(gotData.Fields) != 1 || gotData.Fields[0].Values[0] != "online" {
		t.Fatalf("unexpected decoded form: %+v", gotData)
	}
}

type nopTokenWriter struct{}

func (nopTokenWriter) EncodeToken(xml.Token) error { return nil }
func (nopTokenWriter) Flush() error                { return nil }

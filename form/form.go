// Package form implements a minimal XEP-0004 Data Forms value object: just
// enough to decode an inbound form (the dynamic-form-update message
// handler, the registration and password-change forms surfaced as
// spec-named events) and re-encode a submitted result. It intentionally
// drops the teacher's functional-options form-builder API (Boolean/Fixed/
// Hidden/...): this module never constructs a form from scratch, only
// decodes one and hands back a caller-supplied set of field values, so the
// builder's ceremony has no caller here.
package form

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"strata.im/xmpp/mux"
	"strata.im/xmpp/stanza"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// Field is one data form field (XEP-0004 §3.3).
type Field struct {
	Type     string
	Var      string
	Label    string
	Desc     string
	Values   []string
	Required bool
	Options  []string
}

// Data is a data form: a typed bag of fields plus optional title and
// instructions.
type Data struct {
	Type         string
	Title        string
	Instructions string
	Fields       []Field
}

type fieldXML struct {
	Type     string    `xml:"type,attr"`
	Var      string    `xml:"var,attr,omitempty"`
	Label    string    `xml:"label,attr,omitempty"`
	Desc     string    `xml:"desc,omitempty"`
	Value    []string  `xml:"value"`
	Required *struct{} `xml:"required"`
	Option   []struct {
		Value string `xml:"value"`
	} `xml:"option"`
}

type dataXML struct {
	Type         string     `xml:"type,attr"`
	Title        string     `xml:"title"`
	Instructions string     `xml:"instructions"`
	Field        []fieldXML `xml:"field"`
}

// Decode reads a <x xmlns='jabber:x:data'/> element given its already-read
// start tag and a token reader continuing from there (the convention every
// mux handler in this module receives its payload in).
func Decode(start xml.StartElement, t xml.TokenReader) (Data, error) {
	var raw dataXML
	if err := xml.NewTokenDecoder(t).DecodeElement(&raw, &start); err != nil {
		return Data{}, err
	}
	d := Data{Type: raw.Type, Title: raw.Title, Instructions: raw.Instructions}
	for _, rf := range raw.Field {
		f := Field{
			Type:     rf.Type,
			Var:      rf.Var,
			Label:    rf.Label,
			Desc:     rf.Desc,
			Values:   rf.Value,
			Required: rf.Required != nil,
		}
		for _, o := range rf.Option {
			f.Options = append(f.Options, o.Value)
		}
		d.Fields = append(d.Fields, f)
	}
	return d, nil
}

// TokenReader encodes d as a <x xmlns='jabber:x:data'/> element, usable for
// submitting a completed form back (Type should be "submit") or replaying a
// result-type form update.
func (d Data) TokenReader() xml.TokenReader {
	var children []xml.TokenReader
	if d.Title != "" {
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Title)), xml.StartElement{Name: xml.Name{Local: "title"}}))
	}
	if d.Instructions != "" {
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Instructions)), xml.StartElement{Name: xml.Name{Local: "instructions"}}))
	}
	for _, f := range d.Fields {
		children = append(children, f.tokenReader())
	}
	start := xml.StartElement{
		Name: xml.Name{Space: NS, Local: "x"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: d.Type}},
	}
	return xmlstream.Wrap(xmlstream.MultiReader(children...), start)
}

func (f Field) tokenReader() xml.TokenReader {
	var children []xml.TokenReader
	for _, v := range f.Values {
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(v)), xml.StartElement{Name: xml.Name{Local: "value"}}))
	}
	attr := []xml.Attr{{Name: xml.Name{Local: "type"}, Value: f.Type}}
	if f.Var != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "var"}, Value: f.Var})
	}
	return xmlstream.Wrap(xmlstream.MultiReader(children...), xml.StartElement{
		Name: xml.Name{Local: "field"},
		Attr: attr,
	})
}

// UpdateHandler returns the default message handler for a result-type
// jabber:x:data form carried inside a <message/> (spec §4.3 "dynamic form
// update message handler"): onUpdated fires the dynamic-form-updated event
// named by spec §6 with the sender and the decoded form.
func UpdateHandler(onUpdated func(msg stanza.Message, d Data)) mux.MessageHandler {
	return func(msg stanza.Message, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		d, err := Decode(*start, t)
		if err != nil {
			return err
		}
		if onUpdated != nil {
			onUpdated(msg, d)
		}
		return nil
	}
}

package stream

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ParseFragment implements the stanza parser (C2). It rebuilds a
// well-formed document from a tokenizer-emitted fragment by wrapping it
// between the captured stream header and a synthesized matching footer,
// then decodes far enough to expose the fragment's single root element
// (the stanza) with its namespace scope fully resolved against the
// header's xmlns declarations.
//
// The returned decoder is positioned immediately after start; callers read
// the stanza's children from it (for example via xmlstream.Inner) and must
// not assume any further validation has been performed — C2 produces a
// tree, nothing more.
func ParseFragment(header, fragment string) (start xml.StartElement, d *xml.Decoder, err error) {
	name := rootElementName(header)
	if name == "" {
		return xml.StartElement{}, nil, fmt.Errorf("%w: could not determine stream root element name", ErrProtocolViolation)
	}
	doc := header + fragment + "</" + name + ">"
	d = xml.NewDecoder(strings.NewReader(doc))

	tok, err := d.Token()
	if err != nil {
		return xml.StartElement{}, nil, err
	}
	if _, ok := tok.(xml.StartElement); !ok {
		return xml.StartElement{}, nil, fmt.Errorf("%w: stream root is not a start element", ErrProtocolViolation)
	}

	tok, err = d.Token()
	if err != nil {
		return xml.StartElement{}, nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return xml.StartElement{}, nil, fmt.Errorf("%w: fragment root is not a start element", ErrProtocolViolation)
	}
	return start, d, nil
}

// rootElementName extracts the element name (including any prefix) from a
// captured stream-header fragment, e.g. "stream:stream" from
// "<stream:stream from='x' ...>".
func rootElementName(header string) string {
	s := strings.TrimPrefix(header, "<")
	for i, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '>', '/':
			return s[:i]
		}
	}
	return ""
}

// Package stream implements the incremental byte-stream tokenizer (C1) and
// stanza fragment parser (C2) described in the connection core
// specification: an XMPP stream is an indefinitely open root element whose
// children arrive over time, so it cannot be handed to a normal XML decoder
// a document at a time.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Kind identifies what a Tokenizer emitted.
type Kind int

// Fragment kinds emitted by the tokenizer (spec §4.1 "Output contract").
const (
	// Header is emitted exactly once, the moment the opening
	// <stream:stream ...> tag closes.
	Header Kind = iota
	// Fragment is emitted once per top-level child of the stream, each time
	// the buffered element closes.
	Fragment
)

// Fragment is one unit of output from the Tokenizer.
type Fragment struct {
	Kind Kind
	// Text is the raw XML text of the header tag (for Header) or of the
	// top-level child element (for Fragment), exactly as it appeared on the
	// wire, including any internal whitespace.
	Text string
}

// ErrProtocolViolation is returned when a non-whitespace byte is seen in a
// state that expects structure (spec §4.1 invariant).
var ErrProtocolViolation = errors.New("stream: protocol violation")

// state is the tokenizer's byte-level state. States 0-4 consume the
// prologue through the opening stream tag; 5 scans for the next top-level
// '<'; 6 disambiguates a child start from a child end; 7 tracks nested
// depth; 8-9 handle self-closing and quoted attribute text, matching the
// ten states of spec §4.1.
type state int

const (
	stPrologue      state = iota // 0
	stHeaderTag                  // 1-2: inside the opening tag, outside a quote
	stHeaderQuote                // 3: inside a quoted attribute value of the opening tag
	stHeaderSlash                // 4: saw '/' inside the opening tag
	stGap                        // 5: depth 1, between top-level siblings
	stTagOpen                    // 6: just saw '<', disambiguating start vs end
	stContent                    // 7: inside a top-level child, depth >= 1
	stTag                        // 8: inside a start/end tag's attributes
	stTagQuote                   // 9: inside a quoted attribute value of a nested tag
)

// Tokenizer is the stream byte-level state machine (C1). It consumes
// decoded UTF-8 text from an io.Reader and emits, in order: the stream
// header exactly once, then one Fragment per top-level child element.
//
// Tokenizer is not safe for concurrent use; it is meant to be driven by a
// single read-loop goroutine, per spec §5's "one task drives the read
// loop" model.
type Tokenizer struct {
	r *bufio.Reader

	st    state
	depth int // stays >= 1 while the stream is open (spec §4.1 invariant)

	buf   []byte
	quote byte // the quote character currently open, if any
	// tagIsEnd marks that the tag currently being scanned in stTag is a
	// closing tag (so a stray '/' just before '>' isn't mistaken for a
	// self-close).
	tagIsEnd bool

	headerSent bool
	closed     bool
}

// NewTokenizer wraps r for incremental tokenization.
func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{r: bufio.NewReader(r)}
}

// Closed reports whether the stream footer has been seen. Once true, Next
// always returns io.EOF.
func (t *Tokenizer) Closed() bool { return t.closed }

// Next reads and returns the next Fragment. It returns io.EOF once the
// stream footer has been consumed, or a wrapped ErrProtocolViolation if the
// byte stream is not well-formed at the structural level this state machine
// checks (spec §4.1).
func (t *Tokenizer) Next() (Fragment, error) {
	if t.closed {
		return Fragment{}, io.EOF
	}
	if !t.headerSent {
		if err := t.scanHeader(); err != nil {
			return Fragment{}, err
		}
		t.headerSent = true
		return Fragment{Kind: Header, Text: t.takeBuf()}, nil
	}
	return t.scanFragment()
}

func (t *Tokenizer) takeBuf() string {
	s := string(t.buf)
	t.buf = t.buf[:0]
	return s
}

// scanHeader drives states 0-4: consume the prologue through the closing
// '>' of the opening <stream:stream ...> tag. A leading "<?xml ...?>"
// declaration is tolerated and discarded.
func (t *Tokenizer) scanHeader() error {
	t.st = stPrologue
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		switch t.st {
		case stPrologue:
			switch {
			case c == '<':
				if next, perr := t.r.Peek(1); perr == nil && next[0] == '?' {
					if err := t.skipUntil([]byte("?>")); err != nil {
						return err
					}
					continue
				}
				t.buf = append(t.buf, c)
				t.st = stHeaderTag
			case isSpace(c):
				// tolerated
			default:
				return fmt.Errorf("%w: unexpected %q before stream header", ErrProtocolViolation, c)
			}
		case stHeaderTag:
			t.buf = append(t.buf, c)
			switch c {
			case '"', '\'':
				t.quote = c
				t.st = stHeaderQuote
			case '/':
				t.st = stHeaderSlash
			case '>':
				t.depth = 1
				return nil
			}
		case stHeaderQuote:
			t.buf = append(t.buf, c)
			if c == t.quote {
				t.st = stHeaderTag
			}
		case stHeaderSlash:
			t.buf = append(t.buf, c)
			if c == '>' {
				t.depth = 1
				return nil
			}
			t.st = stHeaderTag
		}
	}
}

func (t *Tokenizer) skipUntil(term []byte) error {
	var matched int
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if c == term[matched] {
			matched++
			if matched == len(term) {
				return nil
			}
		} else {
			matched = 0
		}
	}
}

// scanFragment drives states 5-9: find the next top-level '<', then track
// nested depth until the matching top-level child closes.
func (t *Tokenizer) scanFragment() (Fragment, error) {
	t.st = stGap
	for {
		c, err := t.r.ReadByte()
		if err != nil {
			return Fragment{}, err
		}
		switch t.st {
		case stGap:
			// Whitespace between top-level fragments (at depth 1) is tolerated
			// and ignored; anything else is a protocol violation.
			switch {
			case c == '<':
				t.buf = append(t.buf, c)
				t.st = stTagOpen
			case isSpace(c):
				// ignored
			default:
				return Fragment{}, fmt.Errorf("%w: unexpected %q at stream depth 1", ErrProtocolViolation, c)
			}
		case stTagOpen:
			t.buf = append(t.buf, c)
			if c == '/' {
				t.tagIsEnd = true
				t.st = stTag
				continue
			}
			t.tagIsEnd = false
			t.depth++
			t.st = stTag
		case stContent:
			t.buf = append(t.buf, c)
			if c == '<' {
				t.st = stTagOpen
			}
		case stTag:
			t.buf = append(t.buf, c)
			switch c {
			case '"', '\'':
				t.quote = c
				t.st = stTagQuote
			case '>':
				if t.tagIsEnd {
					t.depth--
					if t.depth == 0 {
						t.closed = true
						t.buf = t.buf[:0]
						return Fragment{}, io.EOF
					}
				}
				if t.depth == 1 {
					return Fragment{Kind: Fragment, Text: t.takeBuf()}, nil
				}
				t.st = stContent
			case '/':
				// Possible self-close; peek-free: remember and check next byte.
				if !t.tagIsEnd {
					t.st = stTag // stay; '>' handling below accounts for self-close via lookahead
					if isSelfCloseLookahead(t.buf) {
						t.depth-- // this element never opened a nested level
					}
				}
			}
		case stTagQuote:
			t.buf = append(t.buf, c)
			if c == t.quote {
				t.st = stTag
			}
		}
	}
}

// isSelfCloseLookahead reports whether buf ends in '/' — used to detect a
// self-closing tag the instant its '/' is appended (outside a quoted value
// that '/' can only begin the closing "/>" of a start tag), so the
// depth accounting in the '>' branch above stays correct without a second
// pass over the buffer.
func isSelfCloseLookahead(buf []byte) bool {
	return len(buf) >= 1 && buf[len(buf)-1] == '/'
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

// Package reqtable implements the pending-request table (C4): it
// correlates outbound get/set IQs with their eventual result or error,
// retrying with exponential back-off and, on exhaustion, synthesizing a
// recipient-unavailable error back to the caller.
package reqtable

import (
	"container/heap"
	"encoding/xml"
	"strconv"
	"sync"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/stanza"
)

// Callback is invoked exactly once for a pending request: either when a
// correlated result/error arrives (ok reflects which, payload is the
// response's child element tree and err carries the unmarshaled
// stanza.Error when ok is false), or when the retry budget is exhausted (ok
// is false, payload is nil, err is stanza.ErrRecipientUnavailable).
type Callback func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error)

// Transmit sends the serialized stanza text for a request (or a bare
// keep-alive space) to the write serializer (C5).
type Transmit func(text string) error

// Table is the pending-request table. The zero value is not usable; call
// New.
type Table struct {
	mu sync.Mutex

	transmit Transmit

	nextSeq uint32
	bySeq   map[uint32]*entry
	byTime  timeoutHeap

	keepAliveInterval time.Duration
	nextPingDue       time.Time
}

type entry struct {
	seq         uint32
	to          jid.JID
	cb          Callback
	state       interface{}
	text        string // serialized request, kept for retransmission
	deadline    time.Time
	retriesLeft int
	interval    time.Duration
	maxInterval time.Duration
	dropOff     bool
	index       int // heap.Interface bookkeeping
}

// New creates an empty Table that uses transmit to write serialized
// requests (and keep-alive pings) to the wire, and keepAlive as the
// keep_alive_seconds configured option (pings are sent at half that
// interval, per spec §4.4).
func New(transmit Transmit, keepAlive time.Duration) *Table {
	return &Table{
		transmit:          transmit,
		bySeq:             make(map[uint32]*entry),
		keepAliveInterval: keepAlive,
	}
}

// SendIQ allocates a fresh sequence number, serializes and transmits the
// request, and registers it in both indices. body is the already-serialized
// inner payload of the IQ (the element(s) between <iq ...> and </iq>).
func (t *Table) SendIQ(typ stanza.IQType, to jid.JID, body string, cb Callback, state interface{}, retryTimeout time.Duration, nrRetries int, dropOff bool, maxRetryTimeout time.Duration) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	seq := t.nextSeq

	text := encodeIQ(typ, seq, to, body)
	e := &entry{
		seq:         seq,
		to:          to,
		cb:          cb,
		state:       state,
		text:        text,
		deadline:    t.uniqueDeadline(time.Now().Add(retryTimeout)),
		retriesLeft: nrRetries,
		interval:    retryTimeout,
		maxInterval: maxRetryTimeout,
		dropOff:     dropOff,
	}
	t.bySeq[seq] = e
	heap.Push(&t.byTime, e)

	// Transmission errors are reported through the normal retry/exhaustion
	// path rather than synchronously, since the caller has already received
	// its sequence number and the table owns retry from here on.
	_ = t.transmit(text)
	return seq
}

func encodeIQ(typ stanza.IQType, seq uint32, to jid.JID, body string) string {
	s := `<iq type='` + string(typ) + `' id='` + strconv.FormatUint(uint64(seq), 10) + `'`
	if !to.IsZero() {
		s += ` to='` + to.String() + `'`
	}
	s += `>` + body + `</iq>`
	return s
}

// uniqueDeadline enforces the 1-9 tick uniqueness rule on the timeout index
// (spec §3 "Pending-Request Indices"): the exact offset is immaterial, only
// uniqueness matters, so a small deterministic walk is used rather than
// anything fancier.
func (t *Table) uniqueDeadline(want time.Time) time.Time {
	d := want
	offset := time.Duration(1)
	for t.deadlineTaken(d) {
		d = want.Add(offset)
		offset++
		if offset > 9 {
			offset = 1
		}
	}
	return d
}

func (t *Table) deadlineTaken(d time.Time) bool {
	for _, e := range t.byTime {
		if e.deadline.Equal(d) {
			return true
		}
	}
	return false
}

// Resolve delivers a result or error response whose id parses as a 32-bit
// unsigned decimal integer matching a pending request. It reports whether a
// matching pending request was found; ids that don't parse, or that don't
// match any pending request, are silently ignored as late or spurious (spec
// §4.4).
func (t *Table) Resolve(id string, ok bool, payload xml.TokenReader, from jid.JID, respErr error) bool {
	seq64, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return false
	}
	seq := uint32(seq64)

	t.mu.Lock()
	e, found := t.bySeq[seq]
	if found {
		delete(t.bySeq, seq)
		heap.Remove(&t.byTime, e.index)
	}
	t.mu.Unlock()

	if !found {
		return false
	}
	e.cb(ok, payload, from, e.state, respErr)
	return true
}

// Tick scans the timeout index for expired entries, retrying or exhausting
// each, and piggy-backs the keep-alive ping (spec §4.4). It must be called
// roughly once a second by the owning connection's shared execution
// context.
func (t *Table) Tick(now time.Time) {
	t.mu.Lock()
	var toExhaust []*entry
	for t.byTime.Len() > 0 && !t.byTime[0].deadline.After(now) {
		e := heap.Pop(&t.byTime).(*entry)
		if e.retriesLeft > 0 {
			e.retriesLeft--
			next := e.interval
			if e.dropOff {
				next *= 2
				if e.maxInterval > 0 && next > e.maxInterval {
					next = e.maxInterval
				}
			}
			e.interval = next
			e.deadline = t.uniqueDeadline(now.Add(next))
			heap.Push(&t.byTime, e)
			_ = t.transmit(e.text)
			continue
		}
		delete(t.bySeq, e.seq)
		toExhaust = append(toExhaust, e)
	}

	var ping bool
	if t.keepAliveInterval > 0 && !now.Before(t.nextPingDue) {
		ping = true
		t.nextPingDue = now.Add(t.keepAliveInterval / 2)
	}
	t.mu.Unlock()

	for _, e := range toExhaust {
		e.cb(false, nil, jid.JID{}, e.state, stanza.ErrRecipientUnavailable)
	}
	if ping {
		_ = t.transmit(" ")
	}
}

// Len reports the number of pending requests awaiting a response or retry
// (used by tests to check invariant I1/I2 hold after a sequence of
// operations).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySeq)
}

// timeoutHeap orders pending requests by deadline; it is the ordered index
// named in spec §3 ("by timeout instant"). container/heap is used rather
// than a third-party ordered-map or skip-list because no dependency in the
// retrieval pack implements a deadline-ordered retry queue; see DESIGN.md.
type timeoutHeap []*entry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

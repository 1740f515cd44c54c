// Package xmppio implements the write serializer (C5): a single-writer FIFO
// queue over the underlying transport, so that at most one write is ever in
// flight and submissions made while a write is in progress queue in
// submission order (spec §4.5, invariant P4).
package xmppio

import (
	"io"
	"sync"
)

// Sniffer observes outbound text before it is enqueued, matching the
// logging/diagnostic sink spec §4.5 requires every payload pass through.
type Sniffer func(text string)

type job struct {
	text string
	done func(error)
}

// Serializer owns the single goroutine that actually writes to w. Submit is
// safe for concurrent use; everything it accepts reaches the wire in
// submission order.
type Serializer struct {
	w      io.Writer
	sniff  Sniffer
	onFail func(error)

	queue chan job
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSerializer starts the writer goroutine for w. sniff and onFail may be
// nil. onFail is invoked exactly once, the first time a write to w fails;
// the owning connection state machine (C6) uses it to transition to Error.
func NewSerializer(w io.Writer, sniff Sniffer, onFail func(error)) *Serializer {
	s := &Serializer{
		w:      w,
		sniff:  sniff,
		onFail: onFail,
		queue:  make(chan job, 64),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	defer close(s.done)
	for j := range s.queue {
		_, err := io.WriteString(s.w, j.text)
		if j.done != nil {
			j.done(err)
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

// fail records the terminal error, drains any remaining queued jobs (each
// is completed with the same error, per spec §4.5 "the queue is drained"),
// and notifies onFail once.
func (s *Serializer) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	for {
		select {
		case j, ok := <-s.queue:
			if !ok {
				goto drained
			}
			if j.done != nil {
				j.done(err)
			}
		default:
			goto drained
		}
	}
drained:
	if s.onFail != nil {
		s.onFail(err)
	}
}

// Submit enqueues text for transmission. done, if non-nil, is invoked once
// the write completes (successfully or not). Submit returns the
// serializer's terminal error immediately, without enqueuing, once a prior
// write has failed, and io.ErrClosedPipe once Close has been called. The
// sniffer sees text just before it is enqueued.
func (s *Serializer) Submit(text string, done func(error)) error {
	s.mu.Lock()
	err, closed := s.err, s.closed
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if closed {
		return io.ErrClosedPipe
	}
	if s.sniff != nil {
		s.sniff(text)
	}
	s.queue <- job{text: text, done: done}
	return nil
}

// Close stops accepting new submissions and waits for the writer goroutine
// to drain and exit. It does not close the underlying writer.
func (s *Serializer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
	return nil
}

package xmppio_test

import (
	"bytes"
	"sync"
	"testing"

	"strata.im/xmpp/xmppio"
)

// safeBuffer serializes access to a bytes.Buffer so the test can assert on
// it while the writer goroutine is still draining completion callbacks.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestOrderingPreserved(t *testing.T) {
	var buf safeBuffer
	var sniffed []string
	var sniffMu sync.Mutex
	s := xmppio.NewSerializer(&buf, func(text string) {
		sniffMu.Lock()
		sniffed = append(sniffed, text)
		sniffMu.Unlock()
	}, nil)

	var wg sync.WaitGroup
	for _, frag := range []string{"<a/>", "<b/>", "<c/>"} {
		wg.Add(1)
		frag := frag
		if err := s.Submit(frag, func(error) { wg.Done() }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := buf.String(); got != "<a/><b/><c/>" {
		t.Fatalf("got %q, want in-order concatenation", got)
	}
	sniffMu.Lock()
	defer sniffMu.Unlock()
	if len(sniffed) != 3 || sniffed[0] != "<a/>" {
		t.Fatalf("sniffer did not observe fragments in order: %v", sniffed)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestFailureDrainsQueueAndNotifies(t *testing.T) {
	var failed bool
	var mu sync.Mutex
	s := xmppio.NewSerializer(failingWriter{}, nil, func(error) {
		mu.Lock()
		failed = true
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		if err := s.Submit("<a/>", func(error) { wg.Done() }); err != nil {
			wg.Done()
		}
	}
	wg.Wait()
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if !failed {
		t.Fatal("expected onFail to be invoked")
	}
}

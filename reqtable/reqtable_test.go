package reqtable_test

import (
	"encoding/xml"
	"testing"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

func TestResolveInvokesCallbackOnce(t *testing.T) {
	var sent []string
	tbl := reqtable.New(func(s string) error {
		sent = append(sent, s)
		return nil
	}, 0)

	to := jid.MustParse("peer@example.com")
	var calls int
	var gotOK bool
	seq := tbl.SendIQ(stanza.GetIQ, to, `<ping xmlns='urn:xmpp:ping'/>`, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		calls++
		gotOK = ok
	}, nil, time.Second, 2, true, 0)

	if len(sent) != 1 {
		t.Fatalf("expected 1 transmission, got %d", len(sent))
	}
	if ok := tbl.Resolve(itoa(seq), true, nil, to, nil); !ok {
		t.Fatal("expected Resolve to find the pending request")
	}
	if calls != 1 || !gotOK {
		t.Fatalf("callback invoked %d times, ok=%v", calls, gotOK)
	}
	if ok := tbl.Resolve(itoa(seq), true, nil, to, nil); ok {
		t.Fatal("expected second Resolve for the same id to report not found")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected table empty after resolve, got %d", tbl.Len())
	}
}

func TestRetryExhaustionSynthesizesRecipientUnavailable(t *testing.T) {
	var transmits int
	tbl := reqtable.New(func(s string) error {
		transmits++
		return nil
	}, 0)

	var gotErr error
	var resolved bool
	tbl.SendIQ(stanza.GetIQ, jid.JID{}, `<ping xmlns='urn:xmpp:ping'/>`, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		resolved = true
		gotErr = err
	}, nil, time.Second, 2, true, 0)
	// SendIQ sets the first deadline from its own clock reading, so the tick
	// times are taken relative to a reading made after it returns.
	start := time.Now()

	// initial send + 2 retries before exhaustion
	tbl.Tick(start.Add(1 * time.Second))
	tbl.Tick(start.Add(3 * time.Second))
	tbl.Tick(start.Add(7 * time.Second))

	if !resolved {
		t.Fatal("expected callback to fire after retries exhausted")
	}
	if gotErr != stanza.ErrRecipientUnavailable {
		t.Fatalf("expected ErrRecipientUnavailable, got %v", gotErr)
	}
	if transmits != 3 {
		t.Fatalf("expected 3 transmissions (1 initial + 2 retries), got %d", transmits)
	}
	if tbl.Len() != 0 {
		t.Fatal("expected table empty after exhaustion")
	}
}

func itoa(seq uint32) string {
	return fmtUint(seq)
}

func fmtUint(seq uint32) string {
	if seq == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for seq > 0 {
		i--
		buf[i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(buf[i:])
}

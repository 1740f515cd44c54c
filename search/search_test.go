package search_test

import (
	"testing"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/search"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return j
}

func TestFieldsSendsGetQuery(t *testing.T) {
	var sent string
	table := reqtable.New(func(text string) error {
		sent = text
		return nil
	}, 0)

	to := mustJID(t, "search.example.com")
	search.Fields(table, to, func(search.Form, error) {}, 0, 0, 0, false)

	if sent == "" {
		t.Fatal("expected a request to be transmitted")
	}
	if !contains(sent, "type='get'") || !contains(sent, search.NS) {
		t.Fatalf("expected get iq referencing %s, got %q", search.NS, sent)
	}
}

func TestDoSendsSetQueryWithCriteria(t *testing.T) {
	var sent string
	table := reqtable.New(func(text string) error {
		sent = text
		return nil
	}, 0)

	to := mustJID(t, "search.example.com")
	search.Do(table, to, search.Query{Nick: "kim"}, func([]search.Item, error) {}, 0, 0, 0, false)

	if !contains(sent, "type='set'") || !contains(sent, "<nick>kim</nick>") {
		t.Fatalf("expected set iq carrying nick criteria, got %q", sent)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

package roster_test

import (
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmlstream"
	"strata.im/xmpp/jid"
	"strata.im/xmpp/roster"
	"strata.im/xmpp/stanza"
)

func decodeQuery(t *testing.T, r *roster.Roster, payload string) {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(payload))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	start := tok.(xml.StartElement)
	if err := roster.DecodeInto(r, start, d); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
}

func TestDecodeIntoPopulatesItems(t *testing.T) {
	r := roster.New()
	decodeQuery(t, r, `<query xmlns='jabber:iq:roster'>`+
		`<item jid='friend@example.com' name='Friend' subscription='both'><group>Buddies</group></item>`+
		`</query>`)

	it, ok := r.Get(jid.MustParse("friend@example.com"))
	if !ok {
		t.Fatal("expected friend@example.com in roster")
	}
	if it.Name != "Friend" || it.Subscription != "both" {
		t.Fatalf("unexpected item: %+v", it)
	}
	if len(it.Groups) != 1 || it.Groups[0] != "Buddies" {
		t.Fatalf("unexpected groups: %v", it.Groups)
	}
	if !r.Contains(jid.MustParse("friend@example.com")) {
		t.Fatal("expected Contains to report membership")
	}
}

func TestHandlerAppliesPushAndReplies(t *testing.T) {
	r := roster.New()
	var added []roster.Item
	r.OnAdded(func(it roster.Item) { added = append(added, it) })

	h := roster.Handler(r)
	iq := stanza.IQ{ID: "push1", Type: stanza.SetIQ}
	payload := `<query xmlns='jabber:iq:roster'><item jid='new@example.com' subscription='none'/></query>`
	d := xml.NewDecoder(strings.NewReader(payload))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	start := tok.(xml.StartElement)

	var out strings.Builder
	enc := xml.NewEncoder(&out)
	rw := struct {
		xml.TokenReader
		xmlstream.TokenWriter
	}{d, enc}
	if err := h(iq, rw, &start); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(out.String(), "result") {
		t.Fatalf("expected an iq-result reply, got %q", out.String())
	}
	if len(added) != 1 || added[0].JID.String() != "new@example.com" {
		t.Fatalf("expected OnAdded to fire for new@example.com, got %+v", added)
	}
}

func TestApplyPushRemoveDeletesAndNotifies(t *testing.T) {
	r := roster.New()
	decodeQuery(t, r, `<query xmlns='jabber:iq:roster'><item jid='gone@example.com' subscription='both'/></query>`)

	var removed []roster.Item
	r.OnRemoved(func(it roster.Item) { removed = append(removed, it) })

	decodeQuery(t, r, `<query xmlns='jabber:iq:roster'><item jid='gone@example.com' subscription='remove'/></query>`)

	if _, ok := r.Get(jid.MustParse("gone@example.com")); ok {
		t.Fatal("expected gone@example.com to be removed")
	}
	if len(removed) != 1 {
		t.Fatalf("expected OnRemoved to fire once, got %d", len(removed))
	}
}

func TestUpdatePresenceSetsAndClearsLastPresence(t *testing.T) {
	r := roster.New()
	decodeQuery(t, r, `<query xmlns='jabber:iq:roster'><item jid='buddy@example.com' subscription='both'/></query>`)

	full := jid.MustParse("buddy@example.com/phone")
	r.UpdatePresence(full, stanza.Presence{From: full, Type: stanza.AvailablePresence})
	it, _ := r.Get(jid.MustParse("buddy@example.com"))
	if it.LastPresence == nil {
		t.Fatal("expected LastPresence to be set after available presence")
	}

	r.UpdatePresence(full, stanza.Presence{From: full, Type: stanza.UnavailablePresence})
	it, _ = r.Get(jid.MustParse("buddy@example.com"))
	if it.LastPresence != nil {
		t.Fatal("expected LastPresence to be cleared after unavailable from the same full JID")
	}
}

func TestUpdatePresenceIgnoresUnknownContact(t *testing.T) {
	r := roster.New()
	// No panic, no entry created, for a contact never pushed into the roster.
	r.UpdatePresence(jid.MustParse("stranger@example.com"), stanza.Presence{Type: stanza.AvailablePresence})
	if _, ok := r.Get(jid.MustParse("stranger@example.com")); ok {
		t.Fatal("expected no entry to be created for an unknown contact")
	}
}

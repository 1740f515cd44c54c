// Package search implements XEP-0055 Jabber Search over the jabber:iq:search
// namespace: fetching the provider's search form, and submitting criteria
// for a result set. It is boundary glue over C3/C4, grounded on the
// teacher's version/roster query-then-result pattern adapted from a
// blocking *xmpp.Session call to this module's reqtable-based pending
// request table (C4).
package search

import (
	"encoding/xml"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

// NS is the jabber:iq:search namespace.
const NS = "jabber:iq:search"

// Form is the provider's advertised search criteria fields (XEP-0055 §2).
type Form struct {
	Instructions string
	First        bool
	Last         bool
	Nick         bool
	EMail        bool
}

// Query is the search criteria submitted to a provider.
type Query struct {
	First string
	Last  string
	Nick  string
	EMail string
}

// Item is a single search result (XEP-0055 §3).
type Item struct {
	JID   jid.JID
	First string
	Last  string
	Nick  string
	EMail string
}

type fieldPresence struct {
	Instructions string   `xml:"instructions"`
	First        *struct{} `xml:"first"`
	Last         *struct{} `xml:"last"`
	Nick         *struct{} `xml:"nick"`
	EMail        *struct{} `xml:"email"`
}

type itemXML struct {
	JID   jid.JID `xml:"jid,attr"`
	First string  `xml:"first"`
	Last  string  `xml:"last"`
	Nick  string  `xml:"nick"`
	EMail string  `xml:"email"`
}

type resultXML struct {
	Items []itemXML `xml:"item"`
}

func emptyBody() string {
	return "<query xmlns='" + NS + "'></query>"
}

func queryBody(q Query) string {
	s := "<query xmlns='" + NS + "'>"
	if q.First != "" {
		s += "<first>" + xmlEscape(q.First) + "</first>"
	}
	if q.Last != "" {
		s += "<last>" + xmlEscape(q.Last) + "</last>"
	}
	if q.Nick != "" {
		s += "<nick>" + xmlEscape(q.Nick) + "</nick>"
	}
	if q.EMail != "" {
		s += "<email>" + xmlEscape(q.EMail) + "</email>"
	}
	s += "</query>"
	return s
}

func xmlEscape(s string) string {
	var buf []byte
	for _, r := range s {
		switch r {
		case '<':
			buf = append(buf, "&lt;"...)
		case '>':
			buf = append(buf, "&gt;"...)
		case '&':
			buf = append(buf, "&amp;"...)
		default:
			buf = append(buf, string(r)...)
		}
	}
	return string(buf)
}

// Fields requests the provider's search form (spec-named search.Fields).
// cb is invoked with the decoded Form, or an error on failure.
func Fields(reqs *reqtable.Table, to jid.JID, cb func(Form, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	return reqs.SendIQ(stanza.GetIQ, to, emptyBody(), func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(Form{}, err)
			return
		}
		var raw fieldPresence
		if decErr := xml.NewTokenDecoder(payload).Decode(&raw); decErr != nil {
			cb(Form{}, decErr)
			return
		}
		cb(Form{
			Instructions: raw.Instructions,
			First:        raw.First != nil,
			Last:         raw.Last != nil,
			Nick:         raw.Nick != nil,
			EMail:        raw.EMail != nil,
		}, nil)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

// Do submits q as search criteria (spec-named search.Do) and reports the
// matching Items, or an error on failure.
func Do(reqs *reqtable.Table, to jid.JID, q Query, cb func([]Item, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	return reqs.SendIQ(stanza.SetIQ, to, queryBody(q), func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(nil, err)
			return
		}
		var raw resultXML
		if decErr := xml.NewTokenDecoder(payload).Decode(&raw); decErr != nil {
			cb(nil, decErr)
			return
		}
		items := make([]Item, 0, len(raw.Items))
		for _, it := range raw.Items {
			items = append(items, Item{JID: it.JID, First: it.First, Last: it.Last, Nick: it.Nick, EMail: it.EMail})
		}
		cb(items, nil)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

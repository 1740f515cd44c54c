package disco

import (
	"encoding/xml"
	"time"

	"strata.im/xmpp/jid"
	"strata.im/xmpp/reqtable"
	"strata.im/xmpp/stanza"
)

// InfoResult is the decoded response to a disco#info query: the remote
// entity's identities and advertised feature namespaces.
type InfoResult struct {
	Identities []Identity
	Features   []string
}

type identityXML struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

type featureXML struct {
	Var string `xml:"var,attr"`
}

type infoQueryXML struct {
	Identity []identityXML `xml:"http://jabber.org/protocol/disco#info identity"`
	Feature  []featureXML  `xml:"http://jabber.org/protocol/disco#info feature"`
}

type itemsQueryXML struct {
	Item []struct {
		JID  jid.JID `xml:"jid,attr"`
		Name string  `xml:"name,attr,omitempty"`
		Node string  `xml:"node,attr,omitempty"`
	} `xml:"http://jabber.org/protocol/disco#items item"`
}

// Info requests to's disco#info (identities and feature namespaces),
// grounded on version.Get's query-then-decode shape.
func Info(reqs *reqtable.Table, to jid.JID, cb func(InfoResult, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	body := "<query xmlns='" + NSInfo + "'></query>"
	return reqs.SendIQ(stanza.GetIQ, to, body, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(InfoResult{}, err)
			return
		}
		var raw infoQueryXML
		if decErr := xml.NewTokenDecoder(payload).Decode(&raw); decErr != nil {
			cb(InfoResult{}, decErr)
			return
		}
		res := InfoResult{}
		for _, ri := range raw.Identity {
			res.Identities = append(res.Identities, Identity{Category: ri.Category, Type: ri.Type, Name: ri.Name})
		}
		for _, rf := range raw.Feature {
			res.Features = append(res.Features, rf.Var)
		}
		cb(res, nil)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

// Items requests to's disco#items.
func Items(reqs *reqtable.Table, to jid.JID, cb func([]Item, error), retryTimeout, maxRetryTimeout time.Duration, nrRetries int, dropOff bool) uint32 {
	body := "<query xmlns='" + NSItems + "'></query>"
	return reqs.SendIQ(stanza.GetIQ, to, body, func(ok bool, payload xml.TokenReader, from jid.JID, state interface{}, err error) {
		if !ok {
			cb(nil, err)
			return
		}
		var raw itemsQueryXML
		if decErr := xml.NewTokenDecoder(payload).Decode(&raw); decErr != nil {
			cb(nil, decErr)
			return
		}
		items := make([]Item, 0, len(raw.Item))
		for _, ri := range raw.Item {
			items = append(items, Item{JID: ri.JID, Name: ri.Name, Node: ri.Node})
		}
		cb(items, nil)
	}, nil, retryTimeout, nrRetries, dropOff, maxRetryTimeout)
}

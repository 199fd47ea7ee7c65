// Package acl implements the FIPA ACL message: the payload carried by
// every letter's envelope.
package acl

import "fmt"

// Performative is the FIPA communicative-act tag (a small open set; the
// router only assigns and compares a handful of these, so it stays a
// plain string rather than a closed enum).
type Performative string

const (
	Failure Performative = "FAILURE"
	Inform  Performative = "INFORM"
	Request Performative = "REQUEST"
)

// Message is an ACL message: the payload of a letter, independent of
// how it travels (binary or XML, see internal/codec).
type Message struct {
	Performative   Performative
	Sender         string
	Receivers      []string
	Content        string
	Language       string
	Ontology       string
	Protocol       string
	ConversationID string
	InReplyTo      string
	Encoding       string
}

// String renders a minimal human-readable form, used as the
// string-representation wire form for JadeProxyAgent peers and for the
// internal-error inner message.
func (m Message) String() string {
	return fmt.Sprintf(
		"(%s\n :sender %s\n :receiver %v\n :language %s\n :ontology %s\n :protocol %s\n :conversation-id %s\n :in-reply-to %s\n :content %q)",
		m.Performative, m.Sender, m.Receivers, m.Language, m.Ontology, m.Protocol, m.ConversationID, m.InReplyTo, m.Content,
	)
}

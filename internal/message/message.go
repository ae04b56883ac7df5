// Package message holds the values exchanged with a messaging backend: inbound
// messages, reactions, receipt kinds and send acknowledgements.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyMessage = errors.New("message has neither body nor reaction")

// Reaction is an inbound reaction event attached to an earlier message.
type Reaction struct {
	Emoji           string `json:"emoji"`
	TargetAuthor    string `json:"targetAuthor,omitempty"`
	TargetTimestamp int64  `json:"targetSentTimestamp,omitempty"`
	IsRemove        bool   `json:"isRemove,omitempty"`
}

// Message is one received message. It is immutable: the fields are only set by
// New and the envelope decoder. Timestamp is the backend's identifier for the
// message and is opaque; it is not a wall-clock value.
type Message struct {
	source    string
	timestamp int64
	body      *string
	reaction  *Reaction
}

// New builds a Message. At least one of body and reaction must be non-nil.
func New(source string, timestamp int64, body *string, reaction *Reaction) (Message, error) {
	if body == nil && reaction == nil {
		return Message{}, ErrEmptyMessage
	}
	m := Message{source: source, timestamp: timestamp}
	if body != nil {
		b := *body
		m.body = &b
	}
	if reaction != nil {
		r := *reaction
		m.reaction = &r
	}
	return m, nil
}

// Text is a shorthand for a plain text message.
func Text(source string, timestamp int64, body string) Message {
	m, _ := New(source, timestamp, &body, nil)
	return m
}

func (m Message) Source() string { return m.source }

func (m Message) Timestamp() int64 { return m.timestamp }

// Body returns the text body; ok is false for non-text messages such as reactions.
func (m Message) Body() (body string, ok bool) {
	if m.body == nil {
		return "", false
	}
	return *m.body, true
}

func (m Message) Reaction() (Reaction, bool) {
	if m.reaction == nil {
		return Reaction{}, false
	}
	return *m.reaction, true
}

type messageJSON struct {
	Source    string    `json:"source"`
	Timestamp int64     `json:"timestamp"`
	Body      *string   `json:"body,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Source:    m.source,
		Timestamp: m.timestamp,
		Body:      m.body,
		Reaction:  m.reaction,
	})
}

func (m Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Message[source=%s timestamp=%d", m.source, m.timestamp)
	if m.body != nil {
		fmt.Fprintf(&sb, " body=%q", *m.body)
	}
	if m.reaction != nil {
		fmt.Fprintf(&sb, " reaction=%s", m.reaction.Emoji)
	}
	sb.WriteString("]")
	return sb.String()
}

// ReceiptKind is the kind of receipt sent back to a sender.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
	ReceiptViewed    ReceiptKind = "viewed"
)

func ParseReceiptKind(s string) (ReceiptKind, error) {
	switch k := ReceiptKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ReceiptDelivered, ReceiptRead, ReceiptViewed:
		return k, nil
	case "view":
		return ReceiptViewed, nil
	case "":
		return ReceiptRead, nil
	default:
		return "", fmt.Errorf("unknown receipt kind %q", s)
	}
}

// TagUnsupported marks an acknowledgement from a backend that has no such operation.
const TagUnsupported = "UNSUPPORTED"

// Outcome is the backend's acknowledgement of a send, receipt or reaction.
type Outcome struct {
	Timestamp int64
	Tags      []string
}

// Succeeded reports whether every acknowledgement tag is a success tag.
func (o Outcome) Succeeded() bool {
	for _, t := range o.Tags {
		if !strings.EqualFold(t, "SUCCESS") {
			return false
		}
	}
	return true
}

// Unsupported reports whether the backend answered that it cannot perform the operation.
func (o Outcome) Unsupported() bool {
	for _, t := range o.Tags {
		if strings.EqualFold(t, TagUnsupported) {
			return true
		}
	}
	return false
}

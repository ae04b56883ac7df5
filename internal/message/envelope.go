package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotDataMessage = errors.New("envelope carries no data message")

// EnvelopeKind tags the payload carried by one transport-level event.
type EnvelopeKind int

const (
	KindUnknown EnvelopeKind = iota
	KindData
	KindReceipt
	KindSync
	KindTyping
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindData:
		return "dataMessage"
	case KindReceipt:
		return "receiptMessage"
	case KindSync:
		return "syncMessage"
	case KindTyping:
		return "typingMessage"
	default:
		return "unknown"
	}
}

type wireLine struct {
	Envelope *wireEnvelope `json:"envelope"`
	Account  string        `json:"account,omitempty"`
}

type wireEnvelope struct {
	Source         string          `json:"source"`
	SourceNumber   string          `json:"sourceNumber,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	DataMessage    json.RawMessage `json:"dataMessage,omitempty"`
	ReceiptMessage json.RawMessage `json:"receiptMessage,omitempty"`
	SyncMessage    json.RawMessage `json:"syncMessage,omitempty"`
	TypingMessage  json.RawMessage `json:"typingMessage,omitempty"`
}

type wireData struct {
	Timestamp int64     `json:"timestamp"`
	Message   *string   `json:"message"`
	Reaction  *Reaction `json:"reaction,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (e *wireEnvelope) kind() EnvelopeKind {
	switch {
	case present(e.ReceiptMessage):
		return KindReceipt
	case present(e.SyncMessage):
		return KindSync
	case present(e.TypingMessage):
		return KindTyping
	case present(e.DataMessage):
		return KindData
	default:
		return KindUnknown
	}
}

// DecodeEnvelope decodes one line of the backend's JSON output. Only data
// envelopes yield a Message; other kinds are reported with ErrNotDataMessage
// and the detected kind so callers can log and drop them.
func DecodeEnvelope(line []byte) (Message, EnvelopeKind, error) {
	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return Message{}, KindUnknown, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Envelope == nil {
		return Message{}, KindUnknown, errors.New("decode envelope: missing envelope")
	}

	kind := w.Envelope.kind()
	if kind != KindData {
		return Message{}, kind, fmt.Errorf("%s: %w", kind, ErrNotDataMessage)
	}

	var d wireData
	if err := json.Unmarshal(w.Envelope.DataMessage, &d); err != nil {
		return Message{}, kind, fmt.Errorf("decode dataMessage: %w", err)
	}

	source := w.Envelope.Source
	if source == "" {
		source = w.Envelope.SourceNumber
	}
	m, err := New(source, d.Timestamp, d.Message, d.Reaction)
	if err != nil {
		return Message{}, kind, fmt.Errorf("dataMessage %d: %w", d.Timestamp, err)
	}
	return m, kind, nil
}

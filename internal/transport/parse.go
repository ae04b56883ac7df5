package transport

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/message"
)

// decodeMessages turns envelope lines into messages. Non-data envelopes and
// malformed lines are logged and skipped; they never fail the batch.
func decodeMessages(lines []string, logger *zap.Logger) []message.Message {
	msgs := make([]message.Message, 0, len(lines))
	for _, line := range lines {
		if m, ok := decodeMessage([]byte(line), logger); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func decodeMessage(line []byte, logger *zap.Logger) (message.Message, bool) {
	logger.Debug("parse envelope", zap.ByteString("line", line))
	m, kind, err := message.DecodeEnvelope(line)
	switch {
	case err == nil:
		return m, true
	case errors.Is(err, message.ErrNotDataMessage) && kind != message.KindUnknown:
		logger.Info("ignoring envelope", zap.Stringer("kind", kind))
	case errors.Is(err, message.ErrNotDataMessage):
		logger.Warn("envelope type unknown", zap.ByteString("line", line))
	default:
		logger.Warn("skipping malformed envelope", zap.Error(err))
	}
	return message.Message{}, false
}

type ackResult struct {
	Type string `json:"type"`
}

type ack struct {
	Timestamp int64       `json:"timestamp"`
	Results   []ackResult `json:"results"`
}

func (a ack) appendTo(o *message.Outcome) {
	if a.Timestamp != 0 {
		o.Timestamp = a.Timestamp
	}
	for _, r := range a.Results {
		o.Tags = append(o.Tags, r.Type)
	}
}

// decodeOutcome collects acknowledgement tags from one JSON object per line.
func decodeOutcome(lines []string, logger *zap.Logger) message.Outcome {
	var out message.Outcome
	for _, line := range lines {
		var a ack
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			logger.Warn("skipping malformed acknowledgement", zap.String("line", line), zap.Error(err))
			continue
		}
		a.appendTo(&out)
	}
	return out
}

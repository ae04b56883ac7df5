// Package transport talks to the messaging backend. Every backend kind
// implements Client; the rpc kind additionally implements Streamer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/command"
	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/message"
)

// Kind selects the backend variant.
type Kind string

const (
	KindCLI      Kind = "cli"
	KindRPC      Kind = "rpc"
	KindTelegram Kind = "telegram"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCLI, KindRPC, KindTelegram:
		return k, nil
	case "":
		return KindCLI, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// SendOptions carries the optional parts of an outbound message.
type SendOptions struct {
	// QuoteTimestamp, when non-zero, threads the reply as a quote of that
	// message from the same account.
	QuoteTimestamp int64
	Attachments    []string
}

// Client is the capability set shared by all backends.
type Client interface {
	Kind() Kind
	Receive(ctx context.Context) ([]message.Message, error)
	SendReceipt(ctx context.Context, account string, timestamp int64, kind message.ReceiptKind) (message.Outcome, error)
	SendReaction(ctx context.Context, account string, timestamp int64, emoji string) (message.Outcome, error)
	SendMessage(ctx context.Context, account, body string, opts SendOptions) (message.Outcome, error)
}

// Sender is the part of Client used by components that only send.
type Sender interface {
	SendMessage(ctx context.Context, account, body string, opts SendOptions) (message.Outcome, error)
}

// Streamer delivers pushed messages one at a time until ctx is done or the
// stream breaks.
type Streamer interface {
	Stream(ctx context.Context, consume func(message.Message)) error
}

var ErrReceiveUnsupported = errors.New("receive is not supported by this transport; use the message stream")

// Error is returned by every failed backend call. It is never retried by the
// transport itself.
type Error struct {
	Kind       Kind
	Op         string
	ExitCode   int
	Stderr     string
	RPCCode    int
	RPCMessage string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s transport: %s failed", e.Kind, e.Op)
	if e.ExitCode != 0 {
		fmt.Fprintf(&sb, " with exit code %d", e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			fmt.Fprintf(&sb, ": %s", s)
		}
	}
	if e.RPCMessage != "" {
		fmt.Fprintf(&sb, ": %s", e.RPCMessage)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransportError reports whether err came from a backend call.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// New builds the client selected by cfg.Kind.
func New(cfg config.TransportConfig, logger *zap.Logger) (Client, error) {
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindRPC:
		return NewRPC(cfg.RPC, &http.Client{Timeout: cfg.RPC.Timeout}, logger), nil
	case KindTelegram:
		return NewTelegram(cfg.Telegram, logger)
	default:
		return NewCLI(cfg.CLI, command.ExecRunner{}, logger), nil
	}
}

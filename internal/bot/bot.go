// Package bot drives the per-message protocol: receipt, classification and
// one reaction, over batches (Drain) or a push stream (Listen).
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/message"
	"github.com/stellarlinkco/signalbot/internal/metrics"
	"github.com/stellarlinkco/signalbot/internal/router"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("bot is already running")

// Dispatcher classifies a message and runs its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg message.Message) (router.Verdict, error)
}

type Options struct {
	ReceiptKind    message.ReceiptKind
	EmojiOK        string
	EmojiUnknown   string
	WelcomeText    string
	ReconnectDelay time.Duration
}

// OptionsFromConfig validates the bot section and converts it.
func OptionsFromConfig(cfg config.BotConfig) (Options, error) {
	kind, err := message.ParseReceiptKind(cfg.ReceiptKind)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		ReceiptKind:    kind,
		EmojiOK:        cfg.EmojiOK,
		EmojiUnknown:   cfg.EmojiUnknown,
		WelcomeText:    cfg.WelcomeText,
		ReconnectDelay: cfg.ReconnectDelay,
	}
	if opts.EmojiOK == "" {
		opts.EmojiOK = config.DefaultEmojiOK
	}
	if opts.EmojiUnknown == "" {
		opts.EmojiUnknown = config.DefaultEmojiUnknown
	}
	if opts.WelcomeText == "" {
		opts.WelcomeText = config.DefaultWelcome
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = config.DefaultReconnectDelay
	}
	return opts, nil
}

// Result is the bookkeeping of one processed message.
type Result struct {
	Message     message.Message
	ReceiptSent bool
	Verdict     router.Verdict
	Reaction    string // emoji sent, empty when none
	Err         error  // every failure met while processing, joined
}

type Bot struct {
	mu      sync.Mutex
	client  transport.Client
	router  Dispatcher
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a bot. m may be nil.
func New(client transport.Client, r Dispatcher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Bot {
	return &Bot{
		client:  client,
		router:  r,
		opts:    opts,
		logger:  logging.OrNop(logger).Named("bot"),
		metrics: m,
	}
}

// Drain receives the pending messages and processes each in order. A failure
// on one message never stops the batch. Overlapping calls return ErrBusy.
func (b *Bot) Drain(ctx context.Context) ([]Result, error) {
	if !b.mu.TryLock() {
		b.logger.Warn("previous run still in progress, skipping")
		return nil, ErrBusy
	}
	defer b.mu.Unlock()

	msgs, err := b.client.Receive(ctx)
	if err != nil {
		b.transportError("receive", err)
		return nil, fmt.Errorf("receive: %w", err)
	}
	b.logger.Debug("received batch", zap.Int("count", len(msgs)))

	results := make([]Result, 0, len(msgs))
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, b.Process(ctx, msg))
	}
	return results, nil
}

// Listen processes pushed messages until ctx is done, reopening the stream
// after ReconnectDelay whenever it drops.
func (b *Bot) Listen(ctx context.Context, s transport.Streamer) error {
	if !b.mu.TryLock() {
		return ErrBusy
	}
	defer b.mu.Unlock()

	for {
		err := s.Stream(ctx, func(msg message.Message) {
			b.Process(ctx, msg)
		})
		if ctx.Err() != nil {
			b.logger.Info("listener stopped")
			return nil
		}
		b.transportError("stream", err)
		b.logger.Warn("message stream dropped, reconnecting",
			zap.Error(err),
			zap.Duration("delay", b.opts.ReconnectDelay))

		timer := time.NewTimer(b.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Process runs the per-message protocol for msg.
func (b *Bot) Process(ctx context.Context, msg message.Message) Result {
	res := Result{Message: msg}
	var errs []error
	log := b.logger.With(zap.String("source", msg.Source()), zap.Int64("timestamp", msg.Timestamp()))
	log.Info("processing message")
	if b.metrics != nil {
		b.metrics.MessagesReceived.Inc()
	}

	out, err := b.client.SendReceipt(ctx, msg.Source(), msg.Timestamp(), b.opts.ReceiptKind)
	if err != nil {
		log.Error("send receipt failed", zap.Error(err))
		b.transportError("sendReceipt", err)
		errs = append(errs, fmt.Errorf("receipt: %w", err))
	} else {
		res.ReceiptSent = true
		if b.metrics != nil {
			b.metrics.ReceiptsSent.Inc()
		}
		switch {
		case out.Unsupported():
			log.Debug("receipts not supported by transport")
		case !out.Succeeded():
			log.Warn("receipt not acknowledged", zap.Strings("tags", out.Tags))
		}
	}

	verdict, err := b.router.Dispatch(ctx, msg)
	res.Verdict = verdict
	if err != nil {
		log.Error("handler failed", zap.Error(err))
		errs = append(errs, err)
	}

	var emoji string
	switch verdict {
	case router.Handled:
		emoji = b.opts.EmojiOK
	case router.Unknown:
		emoji = b.opts.EmojiUnknown
	default:
		res.Err = errors.Join(errs...)
		return res
	}

	if _, err := b.client.SendReaction(ctx, msg.Source(), msg.Timestamp(), emoji); err != nil {
		log.Error("send reaction failed", zap.Error(err))
		b.transportError("sendReaction", err)
		errs = append(errs, fmt.Errorf("reaction: %w", err))
	} else {
		res.Reaction = emoji
		if b.metrics != nil {
			b.metrics.ReactionsSent.WithLabelValues(emoji).Inc()
		}
	}
	res.Err = errors.Join(errs...)
	return res
}

// Welcome greets a new account.
func (b *Bot) Welcome(ctx context.Context, account string) error {
	b.logger.Info("sending welcome message", zap.String("account", account))
	if _, err := b.client.SendMessage(ctx, account, b.opts.WelcomeText, transport.SendOptions{}); err != nil {
		b.transportError("send", err)
		return fmt.Errorf("welcome %s: %w", account, err)
	}
	return nil
}

func (b *Bot) transportError(op string, err error) {
	if b.metrics != nil && transport.IsTransportError(err) {
		b.metrics.TransportErrors.WithLabelValues(op).Inc()
	}
}

// Package notify forwards unread items found on watched accounts to the
// subscriber list and escalates collector failures to the admins.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/metrics"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

const (
	kindNotification = "notification"
	kindAlert        = "alert"
	kindFallback     = "fallback"
)

type Options struct {
	Accounts    []config.AccountConfig
	Subscribers []string
	Admins      []string
	// SendsPerSecond paces outbound messages; zero means unlimited.
	SendsPerSecond float64
}

func OptionsFromConfig(cfg config.NotifyConfig) Options {
	return Options{
		Accounts:       cfg.Accounts,
		Subscribers:    cfg.Subscribers,
		Admins:         cfg.Admins,
		SendsPerSecond: cfg.SendsPerSecond,
	}
}

type Dispatcher struct {
	sender    transport.Sender
	collector Collector
	opts      Options
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(sender transport.Sender, collector Collector, opts Options, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	limit := rate.Inf
	if opts.SendsPerSecond > 0 {
		limit = rate.Limit(opts.SendsPerSecond)
	}
	return &Dispatcher{
		sender:    sender,
		collector: collector,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logging.OrNop(logger).Named("notify"),
		metrics:   m,
	}
}

// Run checks every account in configured order. Collector failures are
// reported and skipped; any other error ends the run.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, acc := range d.opts.Accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := d.logger.With(zap.String("account", acc.Label))
		log.Info("checking unread messages")

		res := d.collector.CheckUnread(ctx, acc)
		if err := res.Err(); err != nil {
			var cerr *CollectorError
			if !errors.As(err, &cerr) {
				return fmt.Errorf("check account %s: %w", acc.Label, err)
			}
			d.reportFailure(ctx, acc.Label, cerr)
			continue
		}

		events, ok := res.Get()
		if !ok || len(events) == 0 {
			log.Info("no new messages")
			continue
		}
		log.Info("found new messages", zap.Int("count", len(events)))
		if err := d.notify(ctx, acc.Label, events); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, label string, events []Event) error {
	body := Format(label, events)
	var opts transport.SendOptions
	for _, ev := range events {
		if ev.Attachment != "" {
			opts.Attachments = append(opts.Attachments, ev.Attachment)
		}
	}
	for _, to := range d.opts.Subscribers {
		if err := d.send(ctx, to, body, opts, kindNotification); err != nil {
			return fmt.Errorf("notify %s about %s: %w", to, label, err)
		}
	}
	return nil
}

// reportFailure alerts the admins and tells subscribers to check manually.
// Both sends are best-effort.
func (d *Dispatcher) reportFailure(ctx context.Context, label string, cerr *CollectorError) {
	diagnostic := cerr.Diagnostic
	if diagnostic == "" {
		diagnostic = d.collector.Diagnostic()
	}
	d.logger.Error("cannot check new messages",
		zap.String("account", label),
		zap.String("diagnostic", diagnostic),
		zap.Error(cerr))
	if d.metrics != nil {
		d.metrics.CollectorFailures.WithLabelValues(label).Inc()
	}

	var alertOpts transport.SendOptions
	if diagnostic != "" {
		alertOpts.Attachments = []string{diagnostic}
	}
	var errs []error
	for _, to := range d.opts.Admins {
		errs = append(errs, d.send(ctx, to, alertText(label, cerr.Err), alertOpts, kindAlert))
	}
	for _, to := range d.opts.Subscribers {
		errs = append(errs, d.send(ctx, to, fallbackText(label), transport.SendOptions{}, kindFallback))
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("failure report not fully delivered", zap.String("account", label), zap.Error(err))
	}
}

func (d *Dispatcher) send(ctx context.Context, to, body string, opts transport.SendOptions, kind string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := d.sender.SendMessage(ctx, to, body, opts); err != nil {
		if d.metrics != nil && transport.IsTransportError(err) {
			d.metrics.TransportErrors.WithLabelValues("send").Inc()
		}
		return err
	}
	if d.metrics != nil {
		d.metrics.NotificationsSent.WithLabelValues(kind).Inc()
	}
	return nil
}

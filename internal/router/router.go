// Package router classifies message bodies against an ordered table of
// routes and runs the first matching handler.
package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/message"
	"github.com/stellarlinkco/signalbot/internal/metrics"
)

// Verdict is the outcome of classifying one message.
type Verdict int

const (
	// NoBody marks messages without text (reactions). They never reach the
	// route table.
	NoBody Verdict = iota
	Handled
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Handled:
		return "handled"
	case Unknown:
		return "unknown"
	default:
		return "no_body"
	}
}

// Matcher reports whether body selects a route. arg is handed to the
// handler (the matched URL for the media route, the body otherwise).
type Matcher func(body string) (arg string, ok bool)

type Handler func(ctx context.Context, msg message.Message, arg string) error

type Route struct {
	Name   string
	Match  Matcher
	Handle Handler
}

// Router evaluates routes top to bottom; the first match wins.
type Router struct {
	routes  []Route
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(routes []Route, logger *zap.Logger, m *metrics.Metrics) *Router {
	table := make([]Route, len(routes))
	copy(table, routes)
	return &Router{
		routes:  table,
		logger:  logging.OrNop(logger).Named("router"),
		metrics: m,
	}
}

// Routes returns the route names in evaluation order.
func (r *Router) Routes() []string {
	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.Name
	}
	return names
}

// Dispatch classifies msg and runs the matching handler. A handler error is
// returned together with Handled: the route matched even if its reply failed.
func (r *Router) Dispatch(ctx context.Context, msg message.Message) (Verdict, error) {
	body, ok := msg.Body()
	if !ok {
		r.handleReaction(msg)
		r.count(NoBody.String())
		return NoBody, nil
	}

	for _, rt := range r.routes {
		arg, ok := rt.Match(body)
		if !ok {
			continue
		}
		r.logger.Info("route matched",
			zap.String("route", rt.Name),
			zap.String("source", msg.Source()),
			zap.Int64("timestamp", msg.Timestamp()))
		r.count(rt.Name)
		if err := rt.Handle(ctx, msg, arg); err != nil {
			return Handled, fmt.Errorf("route %s: %w", rt.Name, err)
		}
		return Handled, nil
	}

	r.logger.Warn("message type unknown",
		zap.String("source", msg.Source()),
		zap.Int64("timestamp", msg.Timestamp()))
	r.logger.Debug("unknown message", zap.Stringer("message", msg))
	r.count(Unknown.String())
	return Unknown, nil
}

func (r *Router) handleReaction(msg message.Message) {
	fields := []zap.Field{zap.String("source", msg.Source()), zap.Int64("timestamp", msg.Timestamp())}
	if re, ok := msg.Reaction(); ok {
		fields = append(fields,
			zap.String("emoji", re.Emoji),
			zap.Int64("target", re.TargetTimestamp),
			zap.Bool("remove", re.IsRemove))
	}
	r.logger.Info("reaction received, nothing to do", fields...)
}

func (r *Router) count(route string) {
	if r.metrics != nil {
		r.metrics.RoutesHandled.WithLabelValues(route).Inc()
	}
}

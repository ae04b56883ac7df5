package portal

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// isXPath reports whether sel is an XPath expression rather than CSS.
func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// humanDelay picks a pause in [lo, hi].
func humanDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// session wraps one page with bounded lookups and human-like pacing.
type session struct {
	ctx      context.Context
	page     *rod.Page
	timeout  time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	logger   *zap.Logger
}

func (s *session) pause() error {
	return sleep(s.ctx, humanDelay(s.minDelay, s.maxDelay))
}

func (s *session) navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}
	return nil
}

// element waits up to the session timeout for sel.
func (s *session) element(sel string) (*rod.Element, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	p := s.page.Context(ctx)

	var el *rod.Element
	var err error
	if isXPath(sel) {
		el, err = p.ElementX(sel)
	} else {
		el, err = p.Element(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", sel, err)
	}
	return el.Context(s.ctx), nil
}

// has checks for sel without waiting.
func (s *session) has(sel string) (bool, *rod.Element, error) {
	p := s.page.Context(s.ctx)
	var (
		ok  bool
		el  *rod.Element
		err error
	)
	if isXPath(sel) {
		ok, el, err = p.HasX(sel)
	} else {
		ok, el, err = p.Has(sel)
	}
	if err != nil {
		return false, nil, fmt.Errorf("look up %q: %w", sel, err)
	}
	return ok, el, nil
}

func (s *session) click(sel string) error {
	el, err := s.element(sel)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", sel, err)
	}
	return s.pause()
}

func (s *session) input(sel, text string) error {
	el, err := s.element(sel)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %q: %w", sel, err)
	}
	return s.pause()
}

func (s *session) text(sel string) (string, error) {
	el, err := s.element(sel)
	if err != nil {
		return "", err
	}
	txt, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read %q: %w", sel, err)
	}
	return strings.TrimSpace(txt), nil
}

// frame returns a session scoped to the iframe matched by sel.
func (s *session) frame(sel string) (*session, error) {
	el, err := s.element(sel)
	if err != nil {
		return nil, err
	}
	fp, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("enter frame %q: %w", sel, err)
	}
	child := *s
	child.page = fp
	return &child, nil
}

// screenshot captures the full page; it runs on its own deadline so it still
// works after s.ctx has expired.
func (s *session) screenshot() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.page.Context(ctx).Screenshot(true, nil)
}

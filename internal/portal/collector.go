// Package portal scrapes unread messages from a web portal with a headless
// browser, one watched account at a time.
package portal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/notify"
)

// maxUnread bounds one run in case the portal never clears the unread mark.
const maxUnread = 50

var errNotConfigured = errors.New("portal is not configured")

type Collector struct {
	cfg    config.PortalConfig
	logger *zap.Logger

	mu         sync.Mutex
	diagnostic string
}

func NewCollector(cfg config.PortalConfig, logger *zap.Logger) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultPortalTimeout
	}
	return &Collector{cfg: cfg, logger: logging.OrNop(logger).Named("portal")}
}

// Diagnostic returns the path of the screenshot taken at the last failure.
func (c *Collector) Diagnostic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnostic
}

// CheckUnread logs into the portal as account and reads every unread
// message. No unread messages is Empty, not an error. Failures are reported
// as *notify.CollectorError carrying the screenshot path.
func (c *Collector) CheckUnread(ctx context.Context, account config.AccountConfig) notify.Result[[]notify.Event] {
	if c.cfg.LoginURL == "" || c.cfg.MessagesURL == "" {
		return notify.Fail[[]notify.Event](&notify.CollectorError{Account: account.Label, Err: errNotConfigured})
	}
	log := c.logger.With(zap.String("account", account.Label))

	browser, closeBrowser, err := c.connect(ctx)
	if err != nil {
		return notify.Fail[[]notify.Event](&notify.CollectorError{Account: account.Label, Err: err})
	}
	defer closeBrowser()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return notify.Fail[[]notify.Event](&notify.CollectorError{Account: account.Label, Err: fmt.Errorf("open page: %w", err)})
	}
	defer page.Close()

	s := &session{
		ctx:      ctx,
		page:     page,
		timeout:  c.cfg.Timeout,
		minDelay: c.cfg.MinDelay,
		maxDelay: c.cfg.MaxDelay,
		logger:   log,
	}

	log.Info("logging in")
	if err := c.login(s, account); err != nil {
		log.Error("cannot log in, check credentials", zap.Error(err))
		return notify.Fail[[]notify.Event](c.failure(s, account, fmt.Errorf("login: %w", err)))
	}
	log.Info("logged in")

	events, err := c.unread(s, account)
	if err != nil {
		log.Error("cannot read messages", zap.Error(err))
		return notify.Fail[[]notify.Event](c.failure(s, account, err))
	}
	if len(events) == 0 {
		log.Info("no unread messages")
		return notify.Empty[[]notify.Event]()
	}
	return notify.Value(events)
}

func (c *Collector) connect(ctx context.Context) (*rod.Browser, func(), error) {
	if c.cfg.ControlURL != "" {
		b := rod.New().ControlURL(c.cfg.ControlURL).Context(ctx)
		if err := b.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect to chrome: %w", err)
		}
		// Someone else owns this browser; only our page gets closed.
		return b, func() {}, nil
	}

	l := launcher.New().Headless(c.cfg.Headless).Context(ctx)
	if c.cfg.ChromePath != "" {
		l = l.Bin(c.cfg.ChromePath)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect to chrome: %w", err)
	}
	return b, func() {
		_ = b.Close()
		l.Cleanup()
	}, nil
}

func (c *Collector) login(s *session, account config.AccountConfig) error {
	sel := c.cfg.Selectors
	if err := s.navigate(c.cfg.LoginURL); err != nil {
		return err
	}
	if err := s.pause(); err != nil {
		return err
	}
	if sel.CookieAccept != "" {
		if err := s.click(sel.CookieAccept); err != nil {
			return err
		}
	}
	for _, step := range sel.LoginSteps {
		if err := s.click(step); err != nil {
			return err
		}
	}

	form := s
	if sel.LoginFrame != "" {
		f, err := s.frame(sel.LoginFrame)
		if err != nil {
			return err
		}
		form = f
	}
	if err := form.input(sel.Username, account.Username); err != nil {
		return err
	}
	if err := form.input(sel.Password, account.Password); err != nil {
		return err
	}
	if err := form.click(sel.Submit); err != nil {
		return err
	}

	_, err := s.element(sel.LoggedIn)
	return err
}

// unread opens the first unread message until none is left.
func (c *Collector) unread(s *session, account config.AccountConfig) ([]notify.Event, error) {
	sel := c.cfg.Selectors
	if err := c.openInbox(s); err != nil {
		return nil, err
	}
	if sel.CookieClose != "" {
		if ok, el, err := s.has(sel.CookieClose); err == nil && ok {
			_ = el.Click(proto.InputMouseButtonLeft, 1)
		}
	}

	var events []notify.Event
	for range maxUnread {
		ok, link, err := s.has(sel.UnreadLink)
		if err != nil {
			return nil, err
		}
		if !ok {
			return events, nil
		}
		if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, fmt.Errorf("open unread message: %w", err)
		}
		if err := s.pause(); err != nil {
			return nil, err
		}

		ev, err := c.read(s, account)
		if err != nil {
			return nil, err
		}
		s.logger.Info("read message", zap.String("sender", ev.Sender), zap.String("topic", ev.Topic))
		events = append(events, ev)

		if err := c.openInbox(s); err != nil {
			return nil, err
		}
	}
	s.logger.Warn("unread limit reached", zap.Int("limit", maxUnread))
	return events, nil
}

func (c *Collector) openInbox(s *session) error {
	if err := s.navigate(c.cfg.MessagesURL); err != nil {
		return err
	}
	if _, err := s.element(c.cfg.Selectors.LoggedIn); err != nil {
		return fmt.Errorf("not logged in: %w", err)
	}
	return s.pause()
}

func (c *Collector) read(s *session, account config.AccountConfig) (notify.Event, error) {
	sel := c.cfg.Selectors
	sender, err := s.text(sel.Sender)
	if err != nil {
		return notify.Event{}, err
	}
	topic, err := s.text(sel.Topic)
	if err != nil {
		return notify.Event{}, err
	}
	ev := notify.Event{AccountLabel: account.Label, Sender: sender, Topic: topic}
	if sel.Body != "" {
		if ev.Body, err = s.text(sel.Body); err != nil {
			return notify.Event{}, err
		}
	}
	return ev, nil
}

// failure saves a screenshot next to the configured path and wraps err.
func (c *Collector) failure(s *session, account config.AccountConfig, err error) *notify.CollectorError {
	cerr := &notify.CollectorError{Account: account.Label, Err: err}
	if c.cfg.ScreenshotPath == "" {
		return cerr
	}
	data, shotErr := s.screenshot()
	if shotErr == nil {
		if dir := filepath.Dir(c.cfg.ScreenshotPath); dir != "" {
			shotErr = os.MkdirAll(dir, 0o755)
		}
	}
	if shotErr == nil {
		shotErr = os.WriteFile(c.cfg.ScreenshotPath, data, 0o644)
	}
	if shotErr != nil {
		c.logger.Warn("cannot save error screenshot", zap.Error(shotErr))
		return cerr
	}

	c.mu.Lock()
	c.diagnostic = c.cfg.ScreenshotPath
	c.mu.Unlock()
	cerr.Diagnostic = c.cfg.ScreenshotPath
	return cerr
}

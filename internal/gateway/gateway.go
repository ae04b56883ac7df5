// Package gateway wires the configured transport, bot, notification
// dispatcher and scheduler into one long-running process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/signalbot/internal/bot"
	"github.com/stellarlinkco/signalbot/internal/command"
	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/cron"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/media"
	"github.com/stellarlinkco/signalbot/internal/metrics"
	"github.com/stellarlinkco/signalbot/internal/notify"
	"github.com/stellarlinkco/signalbot/internal/portal"
	"github.com/stellarlinkco/signalbot/internal/router"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

const (
	JobDrain  = "drain"
	JobNotify = "notify"
)

// ClientFactory creates the transport client (allows mocking in tests).
type ClientFactory func(cfg config.TransportConfig, logger *zap.Logger) (transport.Client, error)

// Options for creating a Gateway
type Options struct {
	ClientFactory ClientFactory
	Collector     notify.Collector
	Runner        command.Runner // runs the media downloader
	CronStorePath string
	SignalChan    chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	client     transport.Client
	bot        *bot.Bot
	dispatcher *notify.Dispatcher
	cron       *cron.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, logger *zap.Logger, opts Options) (*Gateway, error) {
	logger = logging.OrNop(logger)
	g := &Gateway{
		cfg:        cfg,
		metrics:    metrics.New(),
		logger:     logger.Named("gateway"),
		signalChan: opts.SignalChan,
	}

	factory := opts.ClientFactory
	if factory == nil {
		factory = transport.New
	}
	client, err := factory(cfg.Transport, logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	g.client = client

	runner := opts.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	var linker router.Linker
	if cfg.Media.Enabled {
		linker = media.NewDownloader(cfg.Media, runner, logger)
	}
	rt := router.New(router.Default(client, router.Settings{HelpText: cfg.Bot.HelpText}, linker), logger, g.metrics)
	g.logger.Debug("routes", zap.Strings("order", rt.Routes()))

	botOpts, err := bot.OptionsFromConfig(cfg.Bot)
	if err != nil {
		return nil, fmt.Errorf("bot options: %w", err)
	}
	if client.Kind() == transport.KindTelegram {
		botOpts.EmojiOK = g.telegramReaction("emojiOk", botOpts.EmojiOK)
		botOpts.EmojiUnknown = g.telegramReaction("emojiUnknown", botOpts.EmojiUnknown)
	}
	g.bot = bot.New(client, rt, botOpts, logger, g.metrics)

	collector := opts.Collector
	if collector == nil {
		collector = portal.NewCollector(cfg.Portal, logger)
	}
	g.dispatcher = notify.NewDispatcher(client, collector, notify.OptionsFromConfig(cfg.Notify), logger, g.metrics)

	storePath := opts.CronStorePath
	if storePath == "" {
		storePath = DefaultCronStorePath()
	}
	g.cron = cron.NewService(storePath, logger)
	if err := g.registerJobs(); err != nil {
		return nil, err
	}
	return g, nil
}

// DefaultCronStorePath is where job state is kept unless overridden.
func DefaultCronStorePath() string {
	return filepath.Join(config.ConfigDir(), "data", "cron.json")
}

func (g *Gateway) Bot() *bot.Bot                  { return g.bot }
func (g *Gateway) Dispatcher() *notify.Dispatcher { return g.dispatcher }
func (g *Gateway) Cron() *cron.Service            { return g.cron }
func (g *Gateway) Client() transport.Client       { return g.client }

// telegramReaction swaps an emoji the Bot API would reject for one it accepts.
func (g *Gateway) telegramReaction(key, emoji string) string {
	accepted, ok := transport.TelegramReaction(emoji)
	if !ok {
		g.logger.Warn("reaction emoji not accepted by telegram, using fallback",
			zap.String("setting", "bot."+key), zap.String("emoji", emoji), zap.String("fallback", accepted))
	}
	return accepted
}

// registerJobs schedules the periodic drain for polling transports and the
// notification run when a schedule is configured.
func (g *Gateway) registerJobs() error {
	if _, streaming := g.client.(transport.Streamer); !streaming {
		window, err := cron.ParseWindow(g.cfg.Bot.Window.Start, g.cfg.Bot.Window.End)
		if err != nil {
			return fmt.Errorf("bot window: %w", err)
		}
		schedule := "@every " + g.cfg.Bot.Interval.String()
		if _, err := g.cron.AddJob(JobDrain, schedule, &window, g.drain); err != nil {
			return err
		}
	}
	if g.cfg.Notify.Schedule != "" && len(g.cfg.Notify.Accounts) > 0 {
		if _, err := g.cron.AddJob(JobNotify, g.cfg.Notify.Schedule, nil, g.dispatcher.Run); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) drain(ctx context.Context) error {
	results, err := g.bot.Drain(ctx)
	if errors.Is(err, bot.ErrBusy) {
		return cron.Skipped(err)
	}
	if err != nil {
		return err
	}
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages had errors", failed, len(results))
	}
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, gctx := errgroup.WithContext(ctx)

	if err := g.cron.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range g.cron.ListJobs() {
		if next, ok := g.cron.NextRun(j.ID); ok {
			g.logger.Info("job scheduled", zap.String("job", j.ID), zap.Time("next", next))
		} else {
			g.logger.Info("job disabled", zap.String("job", j.ID))
		}
	}

	if s, ok := g.client.(transport.Streamer); ok {
		eg.Go(func() error {
			return g.bot.Listen(gctx, s)
		})
	}

	if addr := g.cfg.Metrics.Addr; addr != "" {
		srv, ln, err := g.metricsServer(addr)
		if err != nil {
			cancel()
			g.cron.Stop()
			return err
		}
		eg.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
		g.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	}

	g.logger.Info("running", zap.String("transport", string(g.client.Kind())))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
		g.logger.Info("shutting down...")
	case <-gctx.Done():
		g.logger.Info("stopping", zap.Error(context.Cause(gctx)))
	}

	cancel()
	err := eg.Wait()
	g.Shutdown()
	return err
}

func (g *Gateway) metricsServer(addr string) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", g.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln, nil
}

func (g *Gateway) Shutdown() {
	g.cron.Stop()
	g.logger.Info("shutdown complete")
}

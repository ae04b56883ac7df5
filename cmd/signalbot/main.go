package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/cron"
	"github.com/stellarlinkco/signalbot/internal/gateway"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

// GatewayFactory builds the gateway a command runs against (allows mocking in tests).
type GatewayFactory func(cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, error)

type app struct {
	cfgPath    string
	verbose    bool
	transport  string
	cronStore  string
	out        io.Writer
	cfg        *config.Config
	logger     *zap.Logger
	newGateway GatewayFactory
}

func newApp() *app {
	return &app{
		cfgPath:    config.ConfigPath(),
		cronStore:  gateway.DefaultCronStorePath(),
		out:        os.Stdout,
		newGateway: gateway.New,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "signalbot",
		Short:         "signalbot - Signal messenger bot and portal notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", a.cfgPath, "config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to the console")
	root.PersistentFlags().StringVar(&a.transport, "transport", "", "override transport kind (cli, rpc, telegram)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the bot, the notification schedule and the metrics endpoint",
			Args:  cobra.NoArgs,
			RunE:  a.runGateway,
		},
		&cobra.Command{
			Use:   "drain",
			Short: "Receive and answer pending messages once",
			Args:  cobra.NoArgs,
			RunE:  a.runDrain,
		},
		&cobra.Command{
			Use:   "listen",
			Short: "Answer pushed messages until interrupted (rpc transport)",
			Args:  cobra.NoArgs,
			RunE:  a.runListen,
		},
		&cobra.Command{
			Use:   "notify",
			Short: "Check watched portal accounts once and notify subscribers",
			Args:  cobra.NoArgs,
			RunE:  a.runNotify,
		},
		&cobra.Command{
			Use:   "welcome <account>",
			Short: "Send the welcome message to an account",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runWelcome,
		},
		newJobsCmd(a),
		&cobra.Command{
			Use:   "onboard",
			Short: "Write a default config file",
			Args:  cobra.NoArgs,
			RunE:  a.runOnboard,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show configuration and scheduled job state",
			Args:  cobra.NoArgs,
			RunE:  a.runStatus,
		},
	)
	return root
}

func main() {
	if err := newRootCmd(newApp()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every command.
func (a *app) setup() error {
	cfg, err := config.LoadConfigFrom(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.transport != "" {
		cfg.Transport.Kind = a.transport
	}
	a.cfg = cfg

	opts := logging.Options{Level: cfg.Log.Level, File: cfg.Log.File}
	if a.verbose {
		opts.Level = "debug"
		opts.Development = true
	}
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) gateway() (*gateway.Gateway, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", a.cfgPath, err)
	}
	gw, err := a.newGateway(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

func (a *app) runGateway(cmd *cobra.Command, args []string) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	return gw.Run(cmd.Context())
}

func (a *app) runDrain(cmd *cobra.Command, args []string) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	results, err := gw.Bot().Drain(cmd.Context())
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		line := fmt.Sprintf("%s verdict=%s reaction=%q", r.Message, r.Verdict, r.Reaction)
		if r.Err != nil {
			failed++
			line += fmt.Sprintf(" error=%v", r.Err)
		}
		fmt.Fprintln(a.out, line)
	}
	fmt.Fprintf(a.out, "Processed %d message(s)\n", len(results))
	if failed > 0 {
		return fmt.Errorf("%d of %d messages had errors", failed, len(results))
	}
	return nil
}

func (a *app) runListen(cmd *cobra.Command, args []string) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	s, ok := gw.Client().(transport.Streamer)
	if !ok {
		return fmt.Errorf("transport %s cannot stream; use drain or run", gw.Client().Kind())
	}
	ctx, stop := interruptible(cmd.Context())
	defer stop()
	return gw.Bot().Listen(ctx, s)
}

func (a *app) runNotify(cmd *cobra.Command, args []string) error {
	if len(a.cfg.Notify.Accounts) == 0 {
		return errors.New("no notify.accounts configured")
	}
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	return gw.Dispatcher().Run(cmd.Context())
}

func (a *app) runWelcome(cmd *cobra.Command, args []string) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	if err := gw.Bot().Welcome(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome sent to %s\n", args[0])
	return nil
}

func newJobsCmd(a *app) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Enable or disable scheduled jobs (applies on the next run)",
	}
	for _, enable := range []bool{true, false} {
		use, short := "disable <job>", "Stop scheduling a job"
		if enable {
			use, short = "enable <job>", "Schedule a disabled job again"
		}
		jobs.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.setJobEnabled(args[0], enable)
			},
		})
	}
	return jobs
}

// setJobEnabled records the flag in the job state file read by the scheduler.
func (a *app) setJobEnabled(id string, enabled bool) error {
	gw, err := a.gateway()
	if err != nil {
		return err
	}
	svc := gw.Cron()
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	job, err := svc.EnableJob(id, enabled)
	if err != nil {
		return err
	}
	state := "disabled"
	if job.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(a.out, "Job %s %s\n", job.ID, state)
	return nil
}

func (a *app) runOnboard(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(a.cfgPath); err == nil {
		fmt.Fprintf(a.out, "Config already exists: %s\n", a.cfgPath)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := config.SaveConfigTo(config.DefaultConfig(), a.cfgPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(a.out, "Created config: %s\n", a.cfgPath)
	fmt.Fprintln(a.out, "\nNext steps:")
	fmt.Fprintf(a.out, "  1. Edit %s to set transport.cli.account\n", a.cfgPath)
	fmt.Fprintln(a.out, "  2. Or set SIGNALBOT_ACCOUNT environment variable")
	fmt.Fprintln(a.out, "  3. Run 'signalbot drain' to answer pending messages")
	return nil
}

func (a *app) runStatus(cmd *cobra.Command, args []string) error {
	cfg := a.cfg
	fmt.Fprintf(a.out, "Config: %s\n", a.cfgPath)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(a.out, "Config errors: %v\n", err)
	}
	fmt.Fprintf(a.out, "Transport: %s\n", cfg.Transport.Kind)
	switch cfg.Transport.Kind {
	case string(transport.KindRPC):
		fmt.Fprintf(a.out, "RPC endpoint: %s\n", cfg.Transport.RPC.Endpoint)
	case string(transport.KindTelegram):
		fmt.Fprintf(a.out, "Telegram token: %s\n", mask(cfg.Transport.Telegram.Token))
	default:
		fmt.Fprintf(a.out, "signal-cli: %s (account %s)\n", cfg.Transport.CLI.Path, orUnset(cfg.Transport.CLI.Account))
	}
	fmt.Fprintf(a.out, "Drain: every %s within %s-%s\n", cfg.Bot.Interval, cfg.Bot.Window.Start, cfg.Bot.Window.End)
	fmt.Fprintf(a.out, "Media: enabled=%v\n", cfg.Media.Enabled)
	fmt.Fprintf(a.out, "Notify: %d account(s), %d subscriber(s), %d admin(s), schedule %s\n",
		len(cfg.Notify.Accounts), len(cfg.Notify.Subscribers), len(cfg.Notify.Admins), orUnset(cfg.Notify.Schedule))
	fmt.Fprintf(a.out, "Metrics: %s\n", orUnset(cfg.Metrics.Addr))

	jobs, err := cron.LoadState(a.cronStore)
	if err != nil {
		fmt.Fprintf(a.out, "Jobs: error (%v)\n", err)
		return nil
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, "Jobs: none recorded")
		return nil
	}
	for _, j := range jobs {
		last := "never"
		if j.State.LastRunAtMs > 0 {
			last = time.UnixMilli(j.State.LastRunAtMs).Format(time.RFC3339)
		}
		line := fmt.Sprintf("Job %s: %s, runs=%d, last=%s", j.Name, orUnset(j.State.LastStatus), j.State.Runs, last)
		if j.State.LastError != "" {
			line += " (" + j.State.LastError + ")"
		}
		if !j.Enabled {
			line += " [disabled]"
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}

func orUnset(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

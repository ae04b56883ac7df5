package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTransport      = "cli"
	DefaultCLIPath        = "signal-cli"
	DefaultRPCEndpoint    = "http://127.0.0.1:8080/api/v1/rpc"
	DefaultRPCEvents      = "http://127.0.0.1:8080/api/v1/events"
	DefaultRPCTimeout     = 30 * time.Second
	DefaultReceiptKind    = "read"
	DefaultEmojiOK        = "👍"
	DefaultEmojiUnknown   = "❓"
	DefaultInterval       = 30 * time.Second
	DefaultWindowStart    = "00:00"
	DefaultWindowEnd      = "22:30"
	DefaultReconnectDelay = 5 * time.Second
	DefaultMediaCommand   = "yt-dlp"
	DefaultMediaFormat    = "140"
	DefaultPortalTimeout  = 10 * time.Second
	DefaultLogLevel       = "info"
	DefaultWelcome        = "Hello! This is signalBot :)"
)

const DefaultHelpText = `This is help for signalBot

Accepted messages command:
"Help" - return this message
"Ping" - will return "Pong" in response - you can verified this way if bot is online
<youtube_url> - if you send url to youtube video bot will convert it to audio file and sent you back link to it

Automated behaviors:
- check portal unread messages and send an info about them to subscribers`

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Bot       BotConfig       `yaml:"bot"`
	Media     MediaConfig     `yaml:"media"`
	Notify    NotifyConfig    `yaml:"notify"`
	Portal    PortalConfig    `yaml:"portal"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type TransportConfig struct {
	Kind     string         `yaml:"kind"` // "cli" (default), "rpc" or "telegram"
	CLI      CLIConfig      `yaml:"cli"`
	RPC      RPCConfig      `yaml:"rpc"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type CLIConfig struct {
	Path    string `yaml:"path"`
	Account string `yaml:"account,omitempty"`
}

type RPCConfig struct {
	Account        string        `yaml:"account,omitempty"` // required by a multi-account daemon
	Endpoint       string        `yaml:"endpoint"`
	EventsEndpoint string        `yaml:"eventsEndpoint"`
	Timeout        time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	Proxy       string `yaml:"proxy,omitempty"`
	PollTimeout int    `yaml:"pollTimeout,omitempty"`
}

type BotConfig struct {
	ReceiptKind    string        `yaml:"receiptKind"`
	EmojiOK        string        `yaml:"emojiOk"`
	EmojiUnknown   string        `yaml:"emojiUnknown"`
	HelpText       string        `yaml:"helpText,omitempty"`
	WelcomeText    string        `yaml:"welcomeText,omitempty"`
	Interval       time.Duration `yaml:"interval"`
	Window         WindowConfig  `yaml:"window"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
}

// WindowConfig is a daily [Start, End) window in local "HH:MM" time.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type MediaConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Command    string `yaml:"command"`
	Format     string `yaml:"format"`
	OutputDir  string `yaml:"outputDir"`
	LinkPrefix string `yaml:"linkPrefix"`
}

type NotifyConfig struct {
	Schedule       string          `yaml:"schedule,omitempty"` // six-field cron expression; empty disables
	Accounts       []AccountConfig `yaml:"accounts"`
	Subscribers    []string        `yaml:"subscribers"`
	Admins         []string        `yaml:"admins"`
	SendsPerSecond float64         `yaml:"sendsPerSecond,omitempty"`
}

// AccountConfig is one watched portal account. Credentials are opaque here.
type AccountConfig struct {
	Label    string `yaml:"label"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PortalConfig struct {
	LoginURL       string          `yaml:"loginUrl"`
	MessagesURL    string          `yaml:"messagesUrl"`
	ControlURL     string          `yaml:"controlUrl,omitempty"`
	ChromePath     string          `yaml:"chromePath,omitempty"`
	Headless       bool            `yaml:"headless"`
	Timeout        time.Duration   `yaml:"timeout"`
	MinDelay       time.Duration   `yaml:"minDelay"`
	MaxDelay       time.Duration   `yaml:"maxDelay"`
	ScreenshotPath string          `yaml:"screenshotPath"`
	Selectors      PortalSelectors `yaml:"selectors"`
}

// PortalSelectors are CSS selectors, or XPath expressions when they start with "/".
type PortalSelectors struct {
	CookieAccept string   `yaml:"cookieAccept,omitempty"`
	LoginSteps   []string `yaml:"loginSteps,omitempty"`
	LoginFrame   string   `yaml:"loginFrame,omitempty"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Submit       string   `yaml:"submit"`
	LoggedIn     string   `yaml:"loggedIn"`
	CookieClose  string   `yaml:"cookieClose,omitempty"`
	UnreadLink   string   `yaml:"unreadLink"`
	Sender       string   `yaml:"sender"`
	Topic        string   `yaml:"topic"`
	Body         string   `yaml:"body"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind: DefaultTransport,
			CLI:  CLIConfig{Path: DefaultCLIPath},
			RPC: RPCConfig{
				Endpoint:       DefaultRPCEndpoint,
				EventsEndpoint: DefaultRPCEvents,
				Timeout:        DefaultRPCTimeout,
			},
		},
		Bot: BotConfig{
			ReceiptKind:    DefaultReceiptKind,
			EmojiOK:        DefaultEmojiOK,
			EmojiUnknown:   DefaultEmojiUnknown,
			HelpText:       DefaultHelpText,
			WelcomeText:    DefaultWelcome,
			Interval:       DefaultInterval,
			Window:         WindowConfig{Start: DefaultWindowStart, End: DefaultWindowEnd},
			ReconnectDelay: DefaultReconnectDelay,
		},
		Media: MediaConfig{
			Command:   DefaultMediaCommand,
			Format:    DefaultMediaFormat,
			OutputDir: filepath.Join(ConfigDir(), "media"),
		},
		Portal: PortalConfig{
			Headless:       true,
			Timeout:        DefaultPortalTimeout,
			MinDelay:       time.Second,
			MaxDelay:       5 * time.Second,
			ScreenshotPath: filepath.Join(ConfigDir(), "error.png"),
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".signalbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfigFrom reads the YAML file at path (a missing file is not an error),
// then applies .env and environment overrides and fills empty fields with defaults.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env in the working directory or next to the config; real env wins.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SIGNALBOT_TRANSPORT"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("SIGNALBOT_CLI_PATH"); v != "" {
		cfg.Transport.CLI.Path = v
	}
	if v := os.Getenv("SIGNALBOT_ACCOUNT"); v != "" {
		cfg.Transport.CLI.Account = v
	}
	if v := os.Getenv("SIGNALBOT_RPC_ENDPOINT"); v != "" {
		cfg.Transport.RPC.Endpoint = v
	}
	if v := os.Getenv("SIGNALBOT_RPC_ACCOUNT"); v != "" {
		cfg.Transport.RPC.Account = v
	}
	if v := os.Getenv("SIGNALBOT_RPC_EVENTS"); v != "" {
		cfg.Transport.RPC.EventsEndpoint = v
	}
	if v := os.Getenv("SIGNALBOT_RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SIGNALBOT_RPC_TIMEOUT: %w", err)
		}
		cfg.Transport.RPC.Timeout = d
	}
	if v := os.Getenv("SIGNALBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Transport.Telegram.Token = v
	}
	if v := os.Getenv("SIGNALBOT_SUBSCRIBERS"); v != "" {
		cfg.Notify.Subscribers = splitList(v)
	}
	if v := os.Getenv("SIGNALBOT_ADMINS"); v != "" {
		cfg.Notify.Admins = splitList(v)
	}
	if v := os.Getenv("SIGNALBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIGNALBOT_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("SIGNALBOT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return nil
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = d.Transport.Kind
	}
	if cfg.Transport.CLI.Path == "" {
		cfg.Transport.CLI.Path = d.Transport.CLI.Path
	}
	if cfg.Transport.RPC.Timeout <= 0 {
		cfg.Transport.RPC.Timeout = d.Transport.RPC.Timeout
	}
	if cfg.Bot.ReceiptKind == "" {
		cfg.Bot.ReceiptKind = d.Bot.ReceiptKind
	}
	if cfg.Bot.EmojiOK == "" {
		cfg.Bot.EmojiOK = d.Bot.EmojiOK
	}
	if cfg.Bot.EmojiUnknown == "" {
		cfg.Bot.EmojiUnknown = d.Bot.EmojiUnknown
	}
	if cfg.Bot.HelpText == "" {
		cfg.Bot.HelpText = d.Bot.HelpText
	}
	if cfg.Bot.WelcomeText == "" {
		cfg.Bot.WelcomeText = d.Bot.WelcomeText
	}
	if cfg.Bot.Interval <= 0 {
		cfg.Bot.Interval = d.Bot.Interval
	}
	if cfg.Bot.ReconnectDelay <= 0 {
		cfg.Bot.ReconnectDelay = d.Bot.ReconnectDelay
	}
	if cfg.Media.Command == "" {
		cfg.Media.Command = d.Media.Command
	}
	if cfg.Media.Format == "" {
		cfg.Media.Format = d.Media.Format
	}
	if cfg.Media.OutputDir == "" {
		cfg.Media.OutputDir = d.Media.OutputDir
	}
	if cfg.Portal.Timeout <= 0 {
		cfg.Portal.Timeout = d.Portal.Timeout
	}
	if cfg.Portal.MaxDelay < cfg.Portal.MinDelay {
		cfg.Portal.MaxDelay = cfg.Portal.MinDelay
	}
	if cfg.Portal.ScreenshotPath == "" {
		cfg.Portal.ScreenshotPath = d.Portal.ScreenshotPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

// Validate checks that the selected transport and the notify section are usable.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Transport.Kind) {
	case "cli":
		if c.Transport.CLI.Path == "" {
			errs = append(errs, errors.New("transport.cli.path is required"))
		}
	case "rpc":
		if c.Transport.RPC.Endpoint == "" {
			errs = append(errs, errors.New("transport.rpc.endpoint is required"))
		}
		if c.Transport.RPC.EventsEndpoint == "" {
			errs = append(errs, errors.New("transport.rpc.eventsEndpoint is required"))
		}
	case "telegram":
		if c.Transport.Telegram.Token == "" {
			errs = append(errs, errors.New("transport.telegram.token is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport kind %q", c.Transport.Kind))
	}
	if c.Media.Enabled && c.Media.LinkPrefix == "" {
		errs = append(errs, errors.New("media.linkPrefix is required when media is enabled"))
	}
	for i, a := range c.Notify.Accounts {
		if a.Label == "" {
			errs = append(errs, fmt.Errorf("notify.accounts[%d].label is required", i))
		}
	}
	return errors.Join(errs...)
}

// SaveConfigTo writes cfg as YAML to path, creating its directory.
func SaveConfigTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

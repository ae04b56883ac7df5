package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SIGNALBOT_TRANSPORT", "SIGNALBOT_CLI_PATH", "SIGNALBOT_ACCOUNT",
		"SIGNALBOT_RPC_ENDPOINT", "SIGNALBOT_RPC_EVENTS", "SIGNALBOT_RPC_ACCOUNT", "SIGNALBOT_RPC_TIMEOUT",
		"SIGNALBOT_TELEGRAM_TOKEN", "SIGNALBOT_SUBSCRIBERS", "SIGNALBOT_ADMINS",
		"SIGNALBOT_LOG_LEVEL", "SIGNALBOT_LOG_FILE", "SIGNALBOT_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultTransport, cfg.Transport.Kind)
	assert.Equal(t, DefaultCLIPath, cfg.Transport.CLI.Path)
	assert.Equal(t, DefaultRPCTimeout, cfg.Transport.RPC.Timeout)
	assert.Equal(t, DefaultEmojiOK, cfg.Bot.EmojiOK)
	assert.Equal(t, DefaultEmojiUnknown, cfg.Bot.EmojiUnknown)
	assert.Equal(t, 30*time.Second, cfg.Bot.Interval)
	assert.Equal(t, "22:30", cfg.Bot.Window.End)
	assert.True(t, cfg.Portal.Headless)
	assert.Contains(t, cfg.Bot.HelpText, "This is help for signalBot")
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)

	cfg, err := LoadConfigFrom(ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, DefaultTransport, cfg.Transport.Kind)
	assert.Equal(t, filepath.Join(tmpDir, ".signalbot", "media"), cfg.Media.OutputDir)
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)

	require.NoError(t, os.MkdirAll(ConfigDir(), 0755))
	yml := `
transport:
  kind: rpc
  rpc:
    endpoint: http://localhost:9000/api/v1/rpc
    eventsEndpoint: http://localhost:9000/api/v1/events
    timeout: 10s
bot:
  receiptKind: viewed
  interval: 1m
  window:
    start: "06:00"
    end: "22:30"
notify:
  schedule: "0 0 6 * * *"
  accounts:
    - label: kid1
      username: u1
      password: p1
  subscribers: ["+48111", "+48222"]
  admins: ["+48999"]
`
	require.NoError(t, os.WriteFile(ConfigPath(), []byte(yml), 0644))

	cfg, err := LoadConfigFrom(ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "rpc", cfg.Transport.Kind)
	assert.Equal(t, "http://localhost:9000/api/v1/rpc", cfg.Transport.RPC.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Transport.RPC.Timeout)
	assert.Equal(t, "viewed", cfg.Bot.ReceiptKind)
	assert.Equal(t, time.Minute, cfg.Bot.Interval)
	assert.Equal(t, "06:00", cfg.Bot.Window.Start)
	require.Len(t, cfg.Notify.Accounts, 1)
	assert.Equal(t, "kid1", cfg.Notify.Accounts[0].Label)
	assert.Equal(t, []string{"+48111", "+48222"}, cfg.Notify.Subscribers)
	assert.Equal(t, []string{"+48999"}, cfg.Notify.Admins)
	// untouched sections keep defaults
	assert.Equal(t, DefaultEmojiOK, cfg.Bot.EmojiOK)
	assert.Equal(t, DefaultCLIPath, cfg.Transport.CLI.Path)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)

	require.NoError(t, os.MkdirAll(ConfigDir(), 0755))
	require.NoError(t, os.WriteFile(ConfigPath(), []byte("transport: [unterminated"), 0644))

	_, err := LoadConfigFrom(ConfigPath())
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)

	t.Setenv("SIGNALBOT_TRANSPORT", "telegram")
	t.Setenv("SIGNALBOT_TELEGRAM_TOKEN", "tok")
	t.Setenv("SIGNALBOT_CLI_PATH", "/opt/signal-cli/bin/signal-cli")
	t.Setenv("SIGNALBOT_ACCOUNT", "+48000")
	t.Setenv("SIGNALBOT_SUBSCRIBERS", "+1, +2 ,,+3")
	t.Setenv("SIGNALBOT_ADMINS", "+9")
	t.Setenv("SIGNALBOT_RPC_TIMEOUT", "5s")
	t.Setenv("SIGNALBOT_RPC_ACCOUNT", "+48001")
	t.Setenv("SIGNALBOT_METRICS_ADDR", ":9100")

	cfg, err := LoadConfigFrom(ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "telegram", cfg.Transport.Kind)
	assert.Equal(t, "tok", cfg.Transport.Telegram.Token)
	assert.Equal(t, "/opt/signal-cli/bin/signal-cli", cfg.Transport.CLI.Path)
	assert.Equal(t, "+48000", cfg.Transport.CLI.Account)
	assert.Equal(t, []string{"+1", "+2", "+3"}, cfg.Notify.Subscribers)
	assert.Equal(t, []string{"+9"}, cfg.Notify.Admins)
	assert.Equal(t, 5*time.Second, cfg.Transport.RPC.Timeout)
	assert.Equal(t, "+48001", cfg.Transport.RPC.Account)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadConfig_BadDurationEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)
	t.Setenv("SIGNALBOT_RPC_TIMEOUT", "soon")

	_, err := LoadConfigFrom(ConfigPath())
	assert.Error(t, err)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)
	os.Unsetenv("SIGNALBOT_ACCOUNT")
	t.Cleanup(func() { os.Unsetenv("SIGNALBOT_ACCOUNT") })

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("SIGNALBOT_ACCOUNT=+48777\n"), 0644))

	cfg, err := LoadConfigFrom(ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "+48777", cfg.Transport.CLI.Account)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Transport.Kind = "telegram"
	assert.Error(t, cfg.Validate())
	cfg.Transport.Telegram.Token = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Transport.Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Transport.Kind = "rpc"
	cfg.Transport.RPC.EventsEndpoint = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Media.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Media.LinkPrefix = "https://files.example.com/yt/"
	assert.NoError(t, cfg.Validate())

	cfg.Notify.Accounts = []AccountConfig{{Username: "u"}}
	assert.Error(t, cfg.Validate())
}

func TestSaveConfigTo(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Chdir(tmpDir)
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Transport.CLI.Account = "+48123"
	cfg.Notify.Subscribers = []string{"+48111"}
	require.NoError(t, SaveConfigTo(cfg, ConfigPath()))

	loaded, err := LoadConfigFrom(ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "+48123", loaded.Transport.CLI.Account)
	assert.Equal(t, []string{"+48111"}, loaded.Notify.Subscribers)
	assert.Equal(t, DefaultRPCTimeout, loaded.Transport.RPC.Timeout)
}

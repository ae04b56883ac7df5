package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/command"
	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/message"
)

// CLI runs one signal-cli process per call and parses its JSON output.
type CLI struct {
	mu      sync.Mutex
	path    string
	account string
	runner  command.Runner
	logger  *zap.Logger
}

func NewCLI(cfg config.CLIConfig, runner command.Runner, logger *zap.Logger) *CLI {
	return &CLI{
		path:    cfg.Path,
		account: cfg.Account,
		runner:  runner,
		logger:  logging.OrNop(logger).Named("cli"),
	}
}

func (c *CLI) Kind() Kind { return KindCLI }

func (c *CLI) baseArgs() []string {
	args := make([]string, 0, 4)
	if c.account != "" {
		args = append(args, "-a", c.account)
	}
	return append(args, "-o", "json")
}

func (c *CLI) call(ctx context.Context, op call) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := append(c.baseArgs(), op.args()...)
	c.logger.Info("call", zap.String("cmd", c.path), zap.Strings("args", args))

	res, err := c.runner.Run(ctx, c.path, args...)
	if err != nil {
		return nil, &Error{Kind: KindCLI, Op: op.command, Err: err}
	}
	if res.ExitCode != 0 {
		c.logger.Error("signal-cli failed",
			zap.String("op", op.command),
			zap.Int("rc", res.ExitCode),
			zap.ByteString("stderr", res.Stderr))
		return nil, &Error{Kind: KindCLI, Op: op.command, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	c.logger.Debug("result", zap.ByteString("stdout", res.Stdout))
	return res.Lines(), nil
}

func (c *CLI) Receive(ctx context.Context) ([]message.Message, error) {
	lines, err := c.call(ctx, receiveCall())
	if err != nil {
		return nil, err
	}
	return decodeMessages(lines, c.logger), nil
}

func (c *CLI) SendReceipt(ctx context.Context, account string, timestamp int64, kind message.ReceiptKind) (message.Outcome, error) {
	lines, err := c.call(ctx, receiptCall(account, timestamp, kind))
	if err != nil {
		return message.Outcome{}, err
	}
	return decodeOutcome(lines, c.logger), nil
}

func (c *CLI) SendReaction(ctx context.Context, account string, timestamp int64, emoji string) (message.Outcome, error) {
	lines, err := c.call(ctx, reactionCall(account, timestamp, emoji))
	if err != nil {
		return message.Outcome{}, err
	}
	return decodeOutcome(lines, c.logger), nil
}

func (c *CLI) SendMessage(ctx context.Context, account, body string, opts SendOptions) (message.Outcome, error) {
	lines, err := c.call(ctx, messageCall(account, body, opts))
	if err != nil {
		return message.Outcome{}, err
	}
	return decodeOutcome(lines, c.logger), nil
}

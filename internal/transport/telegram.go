package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/message"
)

// TelegramFallbackReaction is sent in place of an emoji the Bot API rejects.
const TelegramFallbackReaction = "🤔"

// telegramReactions are the emoji setMessageReaction accepts.
var telegramReactions = map[string]bool{}

func init() {
	for _, e := range []string{
		"👍", "👎", "❤", "🔥", "🥰", "👏", "😁", "🤔", "🤯", "😱", "🤬", "😢", "🎉", "🤩",
		"🤮", "💩", "🙏", "👌", "🕊", "🤡", "🥱", "🥴", "😍", "🐳", "❤‍🔥", "🌚", "🌭", "💯",
		"🤣", "⚡", "🍌", "🏆", "💔", "🤨", "😐", "🍓", "🍾", "💋", "🖕", "😈", "😴", "😭",
		"🤓", "👻", "👨‍💻", "👀", "🎃", "🙈", "😇", "😨", "🤝", "✍", "🤗", "🫡", "🎅", "🎄",
		"☃", "💅", "🤪", "🗿", "🆒", "💘", "🙉", "🦄", "😘", "💊", "🙊", "😎", "👾", "🤷‍♂",
		"🤷", "🤷‍♀", "😡",
	} {
		telegramReactions[e] = true
	}
}

// TelegramReaction returns emoji when the Bot API accepts it as a reaction,
// and TelegramFallbackReaction otherwise. A trailing variation selector is ignored.
func TelegramReaction(emoji string) (string, bool) {
	if telegramReactions[emoji] {
		return emoji, true
	}
	if bare := strings.TrimSuffix(emoji, "\uFE0F"); telegramReactions[bare] {
		return bare, true
	}
	return TelegramFallbackReaction, false
}

// TelegramAPI is the subset of tgbotapi.BotAPI the transport needs.
type TelegramAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// BotFactory creates TelegramAPI instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramAPI, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Telegram maps the client contract onto the Bot API. Accounts are chat IDs
// and message timestamps are Telegram message IDs.
type Telegram struct {
	mu          sync.Mutex
	token       string
	proxy       string
	pollTimeout int
	offset      int
	bot         TelegramAPI
	factory     BotFactory
	logger      *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory, logger)
}

// NewTelegramWithFactory creates a Telegram transport with a custom bot factory (for testing).
func NewTelegramWithFactory(cfg config.TelegramConfig, factory BotFactory, logger *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Telegram{
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		pollTimeout: cfg.PollTimeout,
		factory:     factory,
		logger:      logging.OrNop(logger).Named("telegram"),
	}, nil
}

func (t *Telegram) Kind() Kind { return KindTelegram }

// api lazily authorises the bot; callers hold t.mu.
func (t *Telegram) api(op string) (TelegramAPI, error) {
	if t.bot != nil {
		return t.bot, nil
	}
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return nil, &Error{Kind: KindTelegram, Op: op, Err: fmt.Errorf("parse proxy url: %w", err)}
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}
	bot, err := t.factory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, &Error{Kind: KindTelegram, Op: op, Err: fmt.Errorf("create telegram bot: %w", err)}
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Receive(ctx context.Context) ([]message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bot, err := t.api(cmdReceive)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := tgbotapi.NewUpdate(t.offset)
	u.Timeout = t.pollTimeout
	updates, err := bot.GetUpdates(u)
	if err != nil {
		return nil, &Error{Kind: KindTelegram, Op: cmdReceive, Err: err}
	}

	msgs := make([]message.Message, 0, len(updates))
	for _, upd := range updates {
		if upd.UpdateID >= t.offset {
			t.offset = upd.UpdateID + 1
		}
		if upd.Message == nil {
			t.logger.Info("ignoring non-message update", zap.Int("update", upd.UpdateID))
			continue
		}
		text := upd.Message.Text
		if text == "" {
			text = upd.Message.Caption
		}
		if text == "" {
			t.logger.Info("ignoring message without text", zap.Int("message", upd.Message.MessageID))
			continue
		}
		source := strconv.FormatInt(upd.Message.Chat.ID, 10)
		msgs = append(msgs, message.Text(source, int64(upd.Message.MessageID), text))
	}
	return msgs, nil
}

// SendReceipt reports UNSUPPORTED: the Bot API has no read receipts.
func (t *Telegram) SendReceipt(ctx context.Context, account string, timestamp int64, kind message.ReceiptKind) (message.Outcome, error) {
	t.logger.Debug("receipts are not supported", zap.String("chat", account), zap.Int64("message", timestamp))
	return message.Outcome{Timestamp: timestamp, Tags: []string{message.TagUnsupported}}, nil
}

func (t *Telegram) SendReaction(ctx context.Context, account string, timestamp int64, emoji string) (message.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bot, err := t.api(cmdSendReaction)
	if err != nil {
		return message.Outcome{}, err
	}
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return message.Outcome{}, &Error{Kind: KindTelegram, Op: cmdSendReaction, Err: err}
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", account)
	params.AddNonZero64("message_id", timestamp)
	params.AddNonEmpty("reaction", string(reaction))

	if _, err := bot.MakeRequest("setMessageReaction", params); err != nil {
		return message.Outcome{}, &Error{Kind: KindTelegram, Op: cmdSendReaction, Err: err}
	}
	return message.Outcome{Timestamp: timestamp, Tags: []string{"SUCCESS"}}, nil
}

func (t *Telegram) SendMessage(ctx context.Context, account, body string, opts SendOptions) (message.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bot, err := t.api(cmdSend)
	if err != nil {
		return message.Outcome{}, err
	}
	chatID, err := strconv.ParseInt(account, 10, 64)
	if err != nil {
		return message.Outcome{}, &Error{Kind: KindTelegram, Op: cmdSend, Err: fmt.Errorf("invalid chat id %q: %w", account, err)}
	}

	msg := tgbotapi.NewMessage(chatID, body)
	if opts.QuoteTimestamp != 0 {
		msg.ReplyToMessageID = int(opts.QuoteTimestamp)
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return message.Outcome{}, &Error{Kind: KindTelegram, Op: cmdSend, Err: err}
	}
	out := message.Outcome{Timestamp: int64(sent.MessageID), Tags: []string{"SUCCESS"}}

	for _, path := range opts.Attachments {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
		if _, err := bot.Send(doc); err != nil {
			return out, &Error{Kind: KindTelegram, Op: cmdSend, Err: fmt.Errorf("send attachment %s: %w", path, err)}
		}
		out.Tags = append(out.Tags, "SUCCESS")
	}
	return out, nil
}

package transport

import (
	"strconv"

	"github.com/stellarlinkco/signalbot/internal/message"
)

const (
	cmdReceive      = "receive"
	cmdSendReceipt  = "sendReceipt"
	cmdSendReaction = "sendReaction"
	cmdSend         = "send"
)

// param is one argument of a backend call. The cli kind renders it as a flag
// (positional when flag is empty), the rpc kind as a params key.
type param struct {
	flag  string
	key   string
	value any // string, int64 or []string
}

type call struct {
	command string
	params  []param
}

func receiveCall() call {
	return call{command: cmdReceive}
}

func receiptCall(account string, timestamp int64, kind message.ReceiptKind) call {
	return call{command: cmdSendReceipt, params: []param{
		{key: "recipient", value: account},
		{flag: "-t", key: "targetTimestamp", value: timestamp},
		{flag: "--type", key: "type", value: string(kind)},
	}}
}

func reactionCall(account string, timestamp int64, emoji string) call {
	return call{command: cmdSendReaction, params: []param{
		{key: "recipient", value: account},
		{flag: "-a", key: "targetAuthor", value: account},
		{flag: "-t", key: "targetTimestamp", value: timestamp},
		{flag: "-e", key: "emoji", value: emoji},
	}}
}

func messageCall(account, body string, opts SendOptions) call {
	c := call{command: cmdSend, params: []param{
		{key: "recipient", value: account},
		{flag: "-m", key: "message", value: body},
	}}
	if opts.QuoteTimestamp != 0 {
		c.params = append(c.params,
			param{flag: "--quote-timestamp", key: "quoteTimestamp", value: opts.QuoteTimestamp},
			param{flag: "--quote-author", key: "quoteAuthor", value: account},
		)
	}
	if len(opts.Attachments) > 0 {
		c.params = append(c.params, param{flag: "-a", key: "attachments", value: opts.Attachments})
	}
	return c
}

// args renders the call as a command-line argument vector.
func (c call) args() []string {
	out := []string{c.command}
	for _, p := range c.params {
		if p.flag != "" {
			out = append(out, p.flag)
		}
		switch v := p.value.(type) {
		case string:
			out = append(out, v)
		case int64:
			out = append(out, strconv.FormatInt(v, 10))
		case []string:
			out = append(out, v...)
		}
	}
	return out
}

// rpcParams renders the call as a JSON-RPC params object.
func (c call) rpcParams() map[string]any {
	if len(c.params) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.params))
	for _, p := range c.params {
		out[p.key] = p.value
	}
	return out
}

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
	"github.com/stellarlinkco/signalbot/internal/message"
)

const (
	jsonRPCVersion = "2.0"
	sseDataPrefix  = "data:"
	maxStreamLine  = 4 << 20
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      int64          `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPC sends through a signal-cli daemon's JSON-RPC endpoint and receives
// through its server-sent event stream.
type RPC struct {
	mu             sync.Mutex
	account        string
	endpoint       string
	eventsEndpoint string
	client         *http.Client
	streamClient   *http.Client
	nextID         atomic.Int64
	logger         *zap.Logger
}

// NewRPC builds the client. client is used for sends and should carry a
// timeout; the stream uses a client without one.
func NewRPC(cfg config.RPCConfig, client *http.Client, logger *zap.Logger) *RPC {
	if client == nil {
		client = &http.Client{Timeout: config.DefaultRPCTimeout}
	}
	return &RPC{
		account:        cfg.Account,
		endpoint:       cfg.Endpoint,
		eventsEndpoint: cfg.EventsEndpoint,
		client:         client,
		streamClient:   &http.Client{Transport: client.Transport},
		logger:         logging.OrNop(logger).Named("rpc"),
	}
}

func (r *RPC) Kind() Kind { return KindRPC }

func (r *RPC) call(ctx context.Context, op call) (json.RawMessage, error) {
	if op.command == cmdReceive {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: ErrReceiveUnsupported}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	params := op.rpcParams()
	if r.account != "" {
		if params == nil {
			params = make(map[string]any, 1)
		}
		params["account"] = r.account
	}
	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  op.command,
		Params:  params,
		ID:      r.nextID.Add(1),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: fmt.Errorf("encode request: %w", err)}
	}
	r.logger.Info("call", zap.String("method", req.Method), zap.Any("params", req.Params), zap.String("endpoint", r.endpoint))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: fmt.Errorf("read response: %w", err)}
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, &Error{Kind: KindRPC, Op: op.command,
			Err: fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)}
	}
	if rr.Error != nil {
		r.logger.Error("call failed", zap.String("method", req.Method), zap.String("message", rr.Error.Message))
		return nil, &Error{Kind: KindRPC, Op: op.command, RPCCode: rr.Error.Code, RPCMessage: rr.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindRPC, Op: op.command, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	r.logger.Debug("call ok", zap.String("method", req.Method), zap.ByteString("result", rr.Result))
	return rr.Result, nil
}

func (r *RPC) outcome(raw json.RawMessage) message.Outcome {
	var out message.Outcome
	if len(raw) == 0 {
		return out
	}
	var a ack
	if err := json.Unmarshal(raw, &a); err != nil {
		r.logger.Debug("result carries no acknowledgement", zap.ByteString("result", raw))
		return out
	}
	a.appendTo(&out)
	return out
}

// Receive always fails: messages arrive through Stream.
func (r *RPC) Receive(ctx context.Context) ([]message.Message, error) {
	_, err := r.call(ctx, receiveCall())
	return nil, err
}

func (r *RPC) SendReceipt(ctx context.Context, account string, timestamp int64, kind message.ReceiptKind) (message.Outcome, error) {
	raw, err := r.call(ctx, receiptCall(account, timestamp, kind))
	if err != nil {
		return message.Outcome{}, err
	}
	return r.outcome(raw), nil
}

func (r *RPC) SendReaction(ctx context.Context, account string, timestamp int64, emoji string) (message.Outcome, error) {
	raw, err := r.call(ctx, reactionCall(account, timestamp, emoji))
	if err != nil {
		return message.Outcome{}, err
	}
	return r.outcome(raw), nil
}

func (r *RPC) SendMessage(ctx context.Context, account, body string, opts SendOptions) (message.Outcome, error) {
	raw, err := r.call(ctx, messageCall(account, body, opts))
	if err != nil {
		return message.Outcome{}, err
	}
	return r.outcome(raw), nil
}

// Stream opens the event stream and hands every data message to consume,
// synchronously, in arrival order. It returns when ctx is done (ctx.Err()) or
// when the connection ends (a *Error).
func (r *RPC) Stream(ctx context.Context, consume func(message.Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.eventsEndpoint, nil)
	if err != nil {
		return &Error{Kind: KindRPC, Op: "stream", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	r.logger.Info("listening for messages", zap.String("endpoint", r.eventsEndpoint))
	resp, err := r.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindRPC, Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindRPC, Op: "stream", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		r.logger.Debug("received event", zap.String("data", data))
		if m, ok := decodeMessage([]byte(data), r.logger); ok {
			consume(m)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	err = sc.Err()
	if err == nil {
		err = io.EOF
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: KindRPC, Op: "stream", Err: fmt.Errorf("stream closed: %w", err)}
}

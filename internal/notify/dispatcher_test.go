package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/message"
	"github.com/stellarlinkco/signalbot/internal/metrics"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

type sentMessage struct {
	to          string
	body        string
	attachments []string
}

type fakeSender struct {
	sent   []sentMessage
	failTo map[string]error
}

func (f *fakeSender) SendMessage(ctx context.Context, account, body string, opts transport.SendOptions) (message.Outcome, error) {
	if err := f.failTo[account]; err != nil {
		return message.Outcome{}, err
	}
	f.sent = append(f.sent, sentMessage{account, body, opts.Attachments})
	return message.Outcome{Tags: []string{"SUCCESS"}}, nil
}

type fakeCollector struct {
	results    map[string]Result[[]Event]
	checked    []string
	diagnostic string
}

func (f *fakeCollector) CheckUnread(ctx context.Context, account config.AccountConfig) Result[[]Event] {
	f.checked = append(f.checked, account.Label)
	return f.results[account.Label]
}

func (f *fakeCollector) Diagnostic() string { return f.diagnostic }

func accounts(labels ...string) []config.AccountConfig {
	out := make([]config.AccountConfig, len(labels))
	for i, l := range labels {
		out[i] = config.AccountConfig{Label: l, Username: l + "-user", Password: "secret"}
	}
	return out
}

func TestDispatcher_ThreeAccounts(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"anna": Value([]Event{
			{AccountLabel: "anna", Sender: "Mrs Smith", Topic: "Trip", Body: "Bring lunch."},
			{AccountLabel: "anna", Sender: "Mr Brown", Topic: "Grades"},
		}),
		"bart":  Fail[[]Event](&CollectorError{Account: "bart", Diagnostic: "/tmp/shot.png", Err: errors.New("login failed")}),
		"carla": Value([]Event{}),
	}}
	sender := &fakeSender{}
	m := metrics.New()
	d := NewDispatcher(sender, collector, Options{
		Accounts:    accounts("anna", "bart", "carla"),
		Subscribers: []string{"+48100", "+48200"},
		Admins:      []string{"+48900"},
	}, nil, m)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"anna", "bart", "carla"}, collector.checked)

	wantNotification := "New messages in account anna:\n\n" +
		"1. Mrs Smith: Trip\n\nBring lunch.\n\n" +
		"2. Mr Brown: Grades"
	wantFallback := "Cannot check new messages for account bart. Please check manually."
	assert.Equal(t, []sentMessage{
		{"+48100", wantNotification, nil},
		{"+48200", wantNotification, nil},
		{"+48900", "Cannot check new messages for account bart: login failed", []string{"/tmp/shot.png"}},
		{"+48100", wantFallback, nil},
		{"+48200", wantFallback, nil},
	}, sender.sent)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("alert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorFailures.WithLabelValues("bart")))
}

func TestDispatcher_EmptyResultSendsNothing(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{"a": Empty[[]Event]()}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, collector, Options{Accounts: accounts("a"), Subscribers: []string{"+1"}}, nil, nil)

	require.NoError(t, d.Run(context.Background()))
	assert.Empty(t, sender.sent)
}

func TestDispatcher_DiagnosticFallsBackToCollector(t *testing.T) {
	collector := &fakeCollector{
		results:    map[string]Result[[]Event]{"a": Fail[[]Event](&CollectorError{Account: "a", Err: errors.New("timeout")})},
		diagnostic: "/var/log/last.png",
	}
	sender := &fakeSender{}
	d := NewDispatcher(sender, collector, Options{Accounts: accounts("a"), Admins: []string{"+9"}}, nil, nil)

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"/var/log/last.png"}, sender.sent[0].attachments)
}

func TestDispatcher_FailureReportIsBestEffort(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"a": Fail[[]Event](&CollectorError{Account: "a", Err: errors.New("x")}),
		"b": Value([]Event{{Sender: "s", Topic: "t"}}),
	}}
	sender := &fakeSender{failTo: map[string]error{"+9": &transport.Error{Kind: transport.KindCLI, Op: "send", ExitCode: 1}}}
	d := NewDispatcher(sender, collector, Options{
		Accounts:    accounts("a", "b"),
		Subscribers: []string{"+1"},
		Admins:      []string{"+9"},
	}, nil, nil)

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1].body, "account b")
}

func TestDispatcher_TransportErrorStopsRun(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"a": Value([]Event{{Sender: "s", Topic: "t"}}),
		"b": Value([]Event{{Sender: "s", Topic: "t"}}),
	}}
	boom := &transport.Error{Kind: transport.KindRPC, Op: "send", RPCMessage: "daemon down"}
	sender := &fakeSender{failTo: map[string]error{"+1": boom}}
	d := NewDispatcher(sender, collector, Options{Accounts: accounts("a", "b"), Subscribers: []string{"+1"}}, nil, nil)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, collector.checked)
}

func TestDispatcher_UnrecoverableCollectorError(t *testing.T) {
	boom := errors.New("browser crashed")
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"a": Fail[[]Event](boom),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, collector, Options{Accounts: accounts("a", "b"), Subscribers: []string{"+1"}, Admins: []string{"+9"}}, nil, nil)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sender.sent)
	assert.Equal(t, []string{"a"}, collector.checked)
}

func TestDispatcher_Attachments(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"a": Value([]Event{{Sender: "s", Topic: "t", Attachment: "/tmp/letter.pdf"}, {Sender: "s", Topic: "u"}}),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, collector, Options{Accounts: accounts("a"), Subscribers: []string{"+1"}}, nil, nil)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"/tmp/letter.pdf"}, sender.sent[0].attachments)
}

func TestDispatcher_Cancelled(t *testing.T) {
	collector := &fakeCollector{}
	d := NewDispatcher(&fakeSender{}, collector, Options{Accounts: accounts("a")}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
	assert.Empty(t, collector.checked)
}

func TestDispatcher_RateLimited(t *testing.T) {
	collector := &fakeCollector{results: map[string]Result[[]Event]{
		"a": Value([]Event{{Sender: "s", Topic: "t"}}),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(sender, collector, Options{
		Accounts:       accounts("a"),
		Subscribers:    []string{"+1", "+2", "+3"},
		SendsPerSecond: 50,
	}, nil, nil)

	start := time.Now()
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, sender.sent, 3)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

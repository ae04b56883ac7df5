package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/signalbot/internal/config"
)

// Event is one unread item found for a watched account.
type Event struct {
	AccountLabel string
	Sender       string
	Topic        string
	Body         string // optional
	Attachment   string // optional file path
}

// Collector finds unread items for one watched account.
type Collector interface {
	CheckUnread(ctx context.Context, account config.AccountConfig) Result[[]Event]
	// Diagnostic returns the path of the last failure artifact, if any.
	Diagnostic() string
}

// CollectorError is a failure confined to one account. The dispatcher
// reports it and moves on to the next account.
type CollectorError struct {
	Account    string
	Diagnostic string
	Err        error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collect unread for %s: %v", e.Account, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Format renders the notification for one account.
func Format(label string, events []Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New messages in account %s:\n\n", label)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%d. %s: %s", i+1, ev.Sender, ev.Topic)
		if ev.Body != "" {
			sb.WriteString("\n\n")
			sb.WriteString(ev.Body)
		}
	}
	return sb.String()
}

func alertText(label string, err error) string {
	return fmt.Sprintf("Cannot check new messages for account %s: %v", label, err)
}

func fallbackText(label string) string {
	return fmt.Sprintf("Cannot check new messages for account %s. Please check manually.", label)
}

package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/stellarlinkco/signalbot/internal/message"
	"github.com/stellarlinkco/signalbot/internal/transport"
)

const PongText = "pong"

var videoURL = regexp.MustCompile(`(https?://)?(www\.)?(m\.)?(youtube\.com|youtu\.be)/\S*`)

// Linker turns a video URL into a public download link.
type Linker interface {
	Link(ctx context.Context, url string) (string, error)
}

// Settings are the texts used by the default routes.
type Settings struct {
	HelpText string
}

// Exact matches the whole body against word, ignoring case.
func Exact(word string) Matcher {
	return func(body string) (string, bool) {
		return body, strings.EqualFold(body, word)
	}
}

// Search matches when re occurs anywhere in the body and passes the match on.
func Search(re *regexp.Regexp) Matcher {
	return func(body string) (string, bool) {
		m := re.FindString(body)
		return m, m != ""
	}
}

// Reply answers the sender with a fixed text, quoting the request.
func Reply(sender transport.Sender, text string) Handler {
	return func(ctx context.Context, msg message.Message, _ string) error {
		_, err := sender.SendMessage(ctx, msg.Source(), text, transport.SendOptions{QuoteTimestamp: msg.Timestamp()})
		return err
	}
}

// Media fetches the matched URL through linker and replies with the link.
func Media(sender transport.Sender, linker Linker) Handler {
	return func(ctx context.Context, msg message.Message, url string) error {
		link, err := linker.Link(ctx, url)
		if err != nil {
			return err
		}
		_, err = sender.SendMessage(ctx, msg.Source(), link, transport.SendOptions{QuoteTimestamp: msg.Timestamp()})
		return err
	}
}

// Default builds the standard table: help, ping, then the video link route
// when linker is not nil.
func Default(sender transport.Sender, settings Settings, linker Linker) []Route {
	routes := []Route{
		{Name: "help", Match: Exact("help"), Handle: Reply(sender, settings.HelpText)},
		{Name: "ping", Match: Exact("ping"), Handle: Reply(sender, PongText)},
	}
	if linker != nil {
		routes = append(routes, Route{Name: "media", Match: Search(videoURL), Handle: Media(sender, linker)})
	}
	return routes
}

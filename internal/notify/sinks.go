package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
)

// SlackSink posts one message per batch to a Slack channel via a bot
// token, grouping expiring certificates into a single formatted message.
type SlackSink struct {
	client  *slack.Client
	channel string
}

func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{client: slack.New(token), channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("%d certificate(s) expiring soon:\n", len(messages)))
	for _, m := range messages {
		line := fmt.Sprintf("- *%s* (%s) expires %s", m.Subject, strings.Join(m.Backends, ", "), m.NotAfter.Format("2006-01-02"))
		if m.Link != "" {
			line += " <" + m.Link + ">"
		}
		body.WriteString(line + "\n")
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(body.String(), false))
	return err
}

// ShoutSink posts a generic JSON webhook payload, for chat systems or
// ingest endpoints that don't speak Slack's API.
type ShoutSink struct {
	url    string
	client *http.Client
}

func NewShoutSink(url string, client *http.Client) *ShoutSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &ShoutSink{url: url, client: client}
}

func (s *ShoutSink) Name() string { return "shout" }

type shoutPayload struct {
	Count    int       `json:"count"`
	Messages []shoutMsg `json:"messages"`
}

type shoutMsg struct {
	Subject  string   `json:"subject"`
	Backends []string `json:"backends"`
	NotAfter string   `json:"not_after"`
	Link     string   `json:"link,omitempty"`
}

func (s *ShoutSink) Send(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	payload := shoutPayload{Count: len(messages)}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, shoutMsg{
			Subject:  m.Subject,
			Backends: m.Backends,
			NotAfter: m.NotAfter.Format("2006-01-02T15:04:05Z07:00"),
			Link:     m.Link,
		})
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("shout webhook returned %s", resp.Status)
	}
	return nil
}

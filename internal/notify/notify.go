// Package notify pushes stage-completion notices to chat webhooks.
// Delivery is best-effort: a notification failure never fails a pipeline
// stage.
package notify

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"github.com/bwmarrin/discordgo"
	"github.com/refit-bench/refit/internal/config"
	"github.com/slack-go/slack"
)

// Event summarizes one finished pipeline stage.
type Event struct {
	Stage     string
	Succeeded int
	Failed    int
	Detail    string
}

func (e Event) message() string {
	msg := fmt.Sprintf("refit %s finished: %d succeeded, %d failed", e.Stage, e.Succeeded, e.Failed)
	if e.Detail != "" {
		msg += "\n" + e.Detail
	}
	return msg
}

// Notifier delivers one event to a channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// slackPoster abstracts the Slack webhook call, enabling test mocks.
type slackPoster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Slack posts events to a Slack incoming webhook.
type Slack struct {
	WebhookURL string
	post       slackPoster
}

// NewSlack creates a Slack webhook notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{WebhookURL: webhookURL, post: slack.PostWebhookContext}
}

func (s *Slack) Notify(ctx context.Context, ev Event) error {
	if err := s.post(ctx, s.WebhookURL, &slack.WebhookMessage{Text: ev.message()}); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	return nil
}

// discordExecutor abstracts the Discord webhook call, enabling test mocks.
type discordExecutor func(webhookID, token string, wait bool, data *discordgo.WebhookParams) error

// Discord posts events to a Discord webhook.
type Discord struct {
	webhookID string
	token     string
	execute   discordExecutor
}

var discordWebhookRe = regexp.MustCompile(`/api/webhooks/(\d+)/([^/?]+)`)

// NewDiscord creates a Discord webhook notifier from a full webhook URL.
func NewDiscord(webhookURL string) (*Discord, error) {
	m := discordWebhookRe.FindStringSubmatch(webhookURL)
	if m == nil {
		return nil, fmt.Errorf("notify: not a discord webhook URL: %s", webhookURL)
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	d := &Discord{webhookID: m[1], token: m[2]}
	d.execute = func(webhookID, token string, wait bool, data *discordgo.WebhookParams) error {
		_, err := session.WebhookExecute(webhookID, token, wait, data)
		return err
	}
	return d, nil
}

func (d *Discord) Notify(ctx context.Context, ev Event) error {
	if err := d.execute(d.webhookID, d.token, false, &discordgo.WebhookParams{Content: ev.message()}); err != nil {
		return fmt.Errorf("notify: discord webhook: %w", err)
	}
	return nil
}

// Multi fans one event out to several notifiers. The first error is
// returned after all deliveries are attempted.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FromConfig builds the configured notifier set. May be empty.
func FromConfig(cfg config.NotifyConfig) Multi {
	var m Multi
	if cfg.SlackWebhook != "" {
		m = append(m, NewSlack(cfg.SlackWebhook))
	}
	if cfg.DiscordWebhook != "" {
		d, err := NewDiscord(cfg.DiscordWebhook)
		if err != nil {
			log.Printf("notify: %v", err)
		} else {
			m = append(m, d)
		}
	}
	return m
}

// Post delivers an event and logs any failure.
func Post(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil {
		log.Printf("notify: %v", err)
	}
}

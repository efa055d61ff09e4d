package notifications

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/notifications/external"
)

// ExternalConfig is the on-disk shape of configs/notifications.yaml: one
// optional block per outbound channel, each independently enabled.
type ExternalConfig struct {
	Slack   SlackEntry   `yaml:"slack"`
	Discord DiscordEntry `yaml:"discord"`
	Email   EmailEntry   `yaml:"email"`
}

type SlackEntry struct {
	Enabled     bool     `yaml:"enabled"`
	WebhookURL  string   `yaml:"webhook_url"`
	Channel     string   `yaml:"channel"`
	Username    string   `yaml:"username"`
	IconEmoji   string   `yaml:"icon_emoji"`
	Events      []string `yaml:"events"`
	MinPriority int      `yaml:"min_priority"`
}

type DiscordEntry struct {
	Enabled     bool     `yaml:"enabled"`
	WebhookURL  string   `yaml:"webhook_url"`
	Username    string   `yaml:"username"`
	AvatarURL   string   `yaml:"avatar_url"`
	Events      []string `yaml:"events"`
	MinPriority int      `yaml:"min_priority"`
}

type EmailEntry struct {
	Enabled     bool     `yaml:"enabled"`
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	Events      []string `yaml:"events"`
	MinPriority int      `yaml:"min_priority"`
}

// LoadExternalConfig reads configs/notifications.yaml. A missing file is not
// an error: it simply yields a config with every channel disabled.
func LoadExternalConfig(path string) (*ExternalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExternalConfig{}, nil
		}
		return nil, fmt.Errorf("notifications: read config: %w", err)
	}
	var cfg ExternalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("notifications: parse config: %w", err)
	}
	return &cfg, nil
}

func eventTypes(names []string) []events.EventType {
	if len(names) == 0 {
		return nil
	}
	out := make([]events.EventType, 0, len(names))
	for _, n := range names {
		out = append(out, events.EventType(n))
	}
	return out
}

// BuildRouter assembles a Router from every enabled channel in cfg. Returns
// nil if no channel is enabled, so the caller can skip bus subscription
// entirely.
func BuildRouter(cfg *ExternalConfig) *Router {
	var channels []NotificationChannel

	if cfg.Slack.Enabled {
		channels = append(channels, external.NewSlackNotifier(external.SlackConfig{
			WebhookURL:  cfg.Slack.WebhookURL,
			Channel:     cfg.Slack.Channel,
			Username:    cfg.Slack.Username,
			IconEmoji:   cfg.Slack.IconEmoji,
			EventTypes:  eventTypes(cfg.Slack.Events),
			MinPriority: cfg.Slack.MinPriority,
		}))
	}
	if cfg.Discord.Enabled {
		channels = append(channels, external.NewDiscordNotifier(external.DiscordConfig{
			WebhookURL:  cfg.Discord.WebhookURL,
			Username:    cfg.Discord.Username,
			AvatarURL:   cfg.Discord.AvatarURL,
			EventTypes:  eventTypes(cfg.Discord.Events),
			MinPriority: cfg.Discord.MinPriority,
		}))
	}
	if cfg.Email.Enabled {
		channels = append(channels, external.NewEmailNotifier(external.EmailConfig{
			SMTPHost:    cfg.Email.SMTPHost,
			SMTPPort:    cfg.Email.SMTPPort,
			Username:    cfg.Email.Username,
			Password:    cfg.Email.Password,
			From:        cfg.Email.From,
			To:          cfg.Email.To,
			EventTypes:  eventTypes(cfg.Email.Events),
			MinPriority: cfg.Email.MinPriority,
		}))
	}

	if len(channels) == 0 {
		return nil
	}
	return NewRouter(channels)
}

// RouteBusEvents subscribes router to every event on bus and routes each one
// until the bus channel is closed (on Unsubscribe). Intended to run in its
// own goroutine for the lifetime of the process.
func RouteBusEvents(router *Router, bus *events.Bus) {
	ch := bus.Subscribe("notifications", nil)
	for ev := range ch {
		router.Route(ev)
	}
}

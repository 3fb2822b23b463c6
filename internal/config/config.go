package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Defaults applied when fields are omitted/zero.
const (
	DefaultQueryWindowMinutes  = 60
	DefaultPollIntervalMinutes = 15
	DefaultLogRetentionDays    = 7
	DefaultMaxPollsPerHour     = 12
	DefaultFailureThreshold    = 3
	DefaultBackoffBase         = 10 * time.Minute
	DefaultBackoffMax          = 2 * time.Hour
	DefaultKillSwitchFile      = "STOP_ATC.txt"
	DefaultMaxSendsPerHour     = 20
	DefaultMaxItems            = 5
	DefaultOutboxRetentionDays = 14
	DefaultUpstreamTimeout     = 10 * time.Minute
)

// envOverrides carries secrets that should not live in the config file.
type envOverrides struct {
	TelegramToken string `env:"ATCWATCH_TELEGRAM_TOKEN"`
	WebhookURL    string `env:"ATCWATCH_WEBHOOK_URL"`
}

// ApplyDefaults fills zero-valued fields in place.
func ApplyDefaults(c *Config) {
	if c.Monitoring.QueryWindowMinutes <= 0 {
		c.Monitoring.QueryWindowMinutes = DefaultQueryWindowMinutes
	}
	if c.Monitoring.PollingIntervalMinutes <= 0 {
		c.Monitoring.PollingIntervalMinutes = DefaultPollIntervalMinutes
	}
	if c.Monitoring.LogRetentionDays <= 0 {
		c.Monitoring.LogRetentionDays = DefaultLogRetentionDays
	}
	if strings.TrimSpace(c.Safety.KillSwitchFile) == "" {
		c.Safety.KillSwitchFile = DefaultKillSwitchFile
	}
	if c.Safety.RateLimit.MaxPollsPerHour <= 0 {
		c.Safety.RateLimit.MaxPollsPerHour = DefaultMaxPollsPerHour
	}
	if c.Safety.CircuitBreaker.FailureThreshold <= 0 {
		c.Safety.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if strings.TrimSpace(c.Outbox.Dir) == "" {
		c.Outbox.Dir = "./outbox"
	}
	if c.Outbox.RetentionDays <= 0 {
		c.Outbox.RetentionDays = DefaultOutboxRetentionDays
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./atcwatch_state"
	}
	if c.Logging.Console == nil {
		t := true
		c.Logging.Console = &t
	}
	for name, ch := range c.Channels {
		if ch.MaxSendsPerHour <= 0 {
			ch.MaxSendsPerHour = DefaultMaxSendsPerHour
		}
		if ch.MaxItems <= 0 {
			ch.MaxItems = DefaultMaxItems
		}
		c.Channels[name] = ch
	}
}

// applyEnv overlays secret values from the environment.
func applyEnv(c *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if ov.TelegramToken != "" {
		ch := c.Channels[ChannelTelegram]
		ch.Token = ov.TelegramToken
		c.Channels[ChannelTelegram] = ch
	}
	if ov.WebhookURL != "" {
		ch := c.Channels[ChannelWebhook]
		if ch.DestinationsByShift == nil {
			ch.DestinationsByShift = map[string]string{}
		}
		// A single URL from env becomes the fallback for every shift that
		// has no explicit destination.
		for shift, dst := range ch.DestinationsByShift {
			if strings.TrimSpace(dst) == "" {
				ch.DestinationsByShift[shift] = ov.WebhookURL
			}
		}
		c.Channels[ChannelWebhook] = ch
	}
	return nil
}

// Validate rejects configs the watcher cannot run with.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Monitoring.FacilityID) == "" {
		return fmt.Errorf("monitoring.facility_id is required")
	}
	if strings.TrimSpace(c.Upstream.SQLTemplate) == "" {
		return fmt.Errorf("upstream.sql_template is required")
	}
	if _, err := ParseDurationField("upstream.timeout", c.Upstream.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("safety.circuit_breaker.backoff_base", c.Safety.CircuitBreaker.BackoffBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("safety.circuit_breaker.backoff_max", c.Safety.CircuitBreaker.BackoffMax); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	for name, ch := range c.Channels {
		if !ch.Enabled {
			continue
		}
		switch name {
		case ChannelWebhook, ChannelOutbox, ChannelTelegram:
		default:
			return fmt.Errorf("channels.%s: unknown channel", name)
		}
		if name == ChannelTelegram && strings.TrimSpace(ch.Token) == "" {
			return fmt.Errorf("channels.telegram: token is required (set ATCWATCH_TELEGRAM_TOKEN)")
		}
	}
	return nil
}

// BackoffBase returns the breaker backoff base with defaults applied.
// Validate must have run first.
func (c CircuitBreakerConfig) BackoffBaseDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", c.BackoffBase, DefaultBackoffBase)
	return d
}

func (c CircuitBreakerConfig) BackoffMaxDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", c.BackoffMax, DefaultBackoffMax)
	return d
}

func (u UpstreamConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", u.Timeout, DefaultUpstreamTimeout)
	return d
}

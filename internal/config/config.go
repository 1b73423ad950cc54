// Package config assembles the process-wide Config from environment
// variables (spec §6). There is no host config file for this system: the
// only on-disk configuration the core reads is the rubric directory itself
// (internal/rubric), which is a distinct concern from process settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvRadarrURL     = "RADARR_URL"
	EnvRadarrAPIKey  = "RADARR_API_KEY"
	EnvClaudeAPIKey  = "CLAUDE_API_KEY"
	EnvClaudeModel   = "CLAUDE_MODEL"
	EnvDebugLogging  = "DEBUG_LOGGING"
	EnvSMTPServer    = "SMTP_SERVER"
	EnvSMTPPort      = "SMTP_PORT"
	EnvSMTPUsername  = "SMTP_USERNAME"
	EnvSMTPPassword  = "SMTP_PASSWORD"
	EnvSMTPUseTLS    = "SMTP_USE_TLS"
	EnvSMTPUseSSL    = "SMTP_USE_SSL"
	EnvNotifyRecipients  = "NOTIFICATION_RECIPIENTS"
	EnvNotifyFrom        = "NOTIFICATION_FROM"
	EnvNotifyReplyTo     = "NOTIFICATION_REPLY_TO"
	EnvNotifyOnNoChanges = "NOTIFY_ON_NO_CHANGES"
	EnvNotifyOnErrorsOnly = "NOTIFY_ON_ERRORS_ONLY"
	EnvScheduleInterval  = "SCHEDULE_INTERVAL"
	EnvScheduleStartTime = "SCHEDULE_START_TIME"
	EnvTZ                = "TZ"
	EnvBatchSize         = "BATCH_SIZE"
	EnvFixTags           = "KOMETA_FIX_TAGS"
)

// SMTPConfig carries the notification transport's connection settings.
type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
}

// NotificationConfig governs when and to whom run reports are sent.
type NotificationConfig struct {
	Recipients    []string
	From          string
	ReplyTo       string
	OnNoChanges   bool
	OnErrorsOnly  bool
}

// Config is the root configuration for the kometa-ai process, assembled
// once at startup and threaded explicitly through the Orchestrator (spec
// §9's "Process-wide mutable state" design note).
type Config struct {
	RadarrURL    string
	RadarrAPIKey string

	ClaudeAPIKey string
	ClaudeModel  string

	DebugLogging bool

	SMTP         SMTPConfig
	Notification NotificationConfig

	ScheduleInterval  string
	ScheduleStartTime string
	TimeZone          string

	BatchSize int
	FixTags   bool
}

// Load assembles Config entirely from the environment, applying defaults
// and then validating (herald's Load/finalize/validate shape, minus the
// TOML file layer this system has no use for).
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.loadDefaults()
	cfg.loadEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadDefaults() {
	c.ClaudeModel = "claude-3-5-sonnet-20241022"
	c.SMTP.Port = 25
	c.ScheduleInterval = "1d"
	c.ScheduleStartTime = "03:00"
	c.TimeZone = "UTC"
	c.BatchSize = 150
}

func (c *Config) loadEnv() {
	c.RadarrURL = os.Getenv(EnvRadarrURL)
	c.RadarrAPIKey = os.Getenv(EnvRadarrAPIKey)
	c.ClaudeAPIKey = os.Getenv(EnvClaudeAPIKey)

	if v := os.Getenv(EnvClaudeModel); v != "" {
		c.ClaudeModel = v
	}
	if v := os.Getenv(EnvDebugLogging); v != "" {
		c.DebugLogging = parseBool(v)
	}

	c.SMTP.Server = os.Getenv(EnvSMTPServer)
	if v := os.Getenv(EnvSMTPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	c.SMTP.Username = os.Getenv(EnvSMTPUsername)
	c.SMTP.Password = os.Getenv(EnvSMTPPassword)
	c.SMTP.UseTLS = parseBool(os.Getenv(EnvSMTPUseTLS))
	c.SMTP.UseSSL = parseBool(os.Getenv(EnvSMTPUseSSL))

	if v := os.Getenv(EnvNotifyRecipients); v != "" {
		c.Notification.Recipients = splitAndTrim(v)
	}
	c.Notification.From = os.Getenv(EnvNotifyFrom)
	c.Notification.ReplyTo = os.Getenv(EnvNotifyReplyTo)
	c.Notification.OnNoChanges = parseBool(os.Getenv(EnvNotifyOnNoChanges))
	c.Notification.OnErrorsOnly = parseBool(os.Getenv(EnvNotifyOnErrorsOnly))

	if v := os.Getenv(EnvScheduleInterval); v != "" {
		c.ScheduleInterval = v
	}
	if v := os.Getenv(EnvScheduleStartTime); v != "" {
		c.ScheduleStartTime = v
	}
	if v := os.Getenv(EnvTZ); v != "" {
		c.TimeZone = v
	}
	if v := os.Getenv(EnvBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	c.FixTags = parseBool(os.Getenv(EnvFixTags))
}

func (c *Config) validate() error {
	if c.RadarrURL == "" {
		return fmt.Errorf("%s is required", EnvRadarrURL)
	}
	if c.RadarrAPIKey == "" {
		return fmt.Errorf("%s is required", EnvRadarrAPIKey)
	}
	if c.ClaudeAPIKey == "" {
		return fmt.Errorf("%s is required", EnvClaudeAPIKey)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvTZ, err)
	}
	if _, err := c.StartTime(); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvScheduleStartTime, err)
	}
	if _, err := c.IntervalDuration(); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvScheduleInterval, err)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvBatchSize)
	}
	return nil
}

// Location resolves TimeZone to a *time.Location.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// StartTime parses ScheduleStartTime ("HH:MM") into hour and minute.
func (c *Config) StartTime() (hourMinute [2]int, err error) {
	parts := strings.SplitN(c.ScheduleStartTime, ":", 2)
	if len(parts) != 2 {
		return hourMinute, fmt.Errorf("expected HH:MM, got %q", c.ScheduleStartTime)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return hourMinute, fmt.Errorf("invalid hour in %q", c.ScheduleStartTime)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return hourMinute, fmt.Errorf("invalid minute in %q", c.ScheduleStartTime)
	}
	return [2]int{h, m}, nil
}

// IntervalDuration parses ScheduleInterval ("<N>{h|d|w|mo}") into a
// time.Duration. Months are treated as exactly 30 days, matching the
// scheduler's tolerance for approximate monthly cadence (spec §4.8).
func (c *Config) IntervalDuration() (time.Duration, error) {
	return ParseInterval(c.ScheduleInterval)
}

// ParseInterval parses the spec §4.8 interval grammar: a positive integer
// followed by one of h (hours), d (days), w (weeks), or mo (months, treated
// as 30 days).
func ParseInterval(spec string) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	suffixes := []struct {
		suffix string
		unit   time.Duration
	}{
		{"mo", 30 * 24 * time.Hour},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
	}
	for _, s := range suffixes {
		if strings.HasSuffix(spec, s.suffix) {
			numPart := strings.TrimSuffix(spec, s.suffix)
			n, err := strconv.Atoi(numPart)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid interval %q", spec)
			}
			return time.Duration(n) * s.unit, nil
		}
	}
	return 0, fmt.Errorf("invalid interval %q: must end in h, d, w, or mo", spec)
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

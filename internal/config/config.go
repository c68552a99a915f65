package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/email"
	"github.com/kursadbilgin/webinar-reminder/internal/service"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	EmailProvider       string        `env:"EMAIL_PROVIDER,default=console"`
	EmailFromAddress    string        `env:"EMAIL_FROM_ADDRESS,required=true"`
	EmailFromName       string        `env:"EMAIL_FROM_NAME,default=Webinars"`
	EmailAPIKey         string        `env:"EMAIL_API_KEY"`
	EmailAPIURL         string        `env:"EMAIL_API_URL"`
	SendRateLimitPerSec int           `env:"SEND_RATE_LIMIT_PER_SEC,default=10"`
	SendDelay           time.Duration `env:"SEND_DELAY,default=150ms"`
	SendTimeout         time.Duration `env:"SEND_TIMEOUT,default=10s"`

	TickSchedule  string        `env:"TICK_SCHEDULE,default=@every 1m"`
	QueryTimeout  time.Duration `env:"QUERY_TIMEOUT,default=15s"`
	DispatchLease time.Duration `env:"DISPATCH_LEASE,default=10m"`

	PreEventLookback  time.Duration `env:"PRE_EVENT_LOOKBACK,default=15m"`
	PreEventLookahead time.Duration `env:"PRE_EVENT_LOOKAHEAD,default=20m"`
	PreEventFireMin   time.Duration `env:"PRE_EVENT_FIRE_MIN,default=14m"`
	PreEventFireMax   time.Duration `env:"PRE_EVENT_FIRE_MAX,default=16m"`
	LiveNowLookback   time.Duration `env:"LIVE_NOW_LOOKBACK,default=2m"`
	LiveNowLookahead  time.Duration `env:"LIVE_NOW_LOOKAHEAD,default=1m"`

	SiteBaseURL string `env:"SITE_BASE_URL,default=http://localhost:3000"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := mail.ParseAddress(c.EmailFromAddress); err != nil {
		return fmt.Errorf("EMAIL_FROM_ADDRESS %q is not a valid address", c.EmailFromAddress)
	}

	switch strings.ToLower(strings.TrimSpace(c.EmailProvider)) {
	case email.ProviderConsole:
	case email.ProviderSendGrid:
		if strings.TrimSpace(c.EmailAPIKey) == "" {
			return fmt.Errorf("EMAIL_API_KEY is required for the sendgrid provider")
		}
	case email.ProviderHTTP:
		if strings.TrimSpace(c.EmailAPIKey) == "" || strings.TrimSpace(c.EmailAPIURL) == "" {
			return fmt.Errorf("EMAIL_API_KEY and EMAIL_API_URL are required for the http provider")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of console, sendgrid, http (got %q)", c.EmailProvider)
	}

	if c.SendRateLimitPerSec <= 0 {
		return fmt.Errorf("SEND_RATE_LIMIT_PER_SEC must be positive")
	}
	if c.SendDelay < 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_DELAY must not be negative and SEND_TIMEOUT must be positive")
	}
	if c.QueryTimeout <= 0 || c.DispatchLease <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT and DISPATCH_LEASE must be positive")
	}
	// The claim is renewed every third of the lease, between two recipients.
	if gap := c.SendDelay + c.SendTimeout + time.Second; c.DispatchLease/3 <= gap {
		return fmt.Errorf("DISPATCH_LEASE (%s) must exceed three times SEND_DELAY + SEND_TIMEOUT + 1s (%s)", c.DispatchLease, gap)
	}

	for _, p := range c.Policies() {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Policies returns the scheduled reminder kinds in dispatch order.
func (c *Config) Policies() []domain.WindowPolicy {
	return []domain.WindowPolicy{
		{
			Kind:      domain.KindPreEvent,
			Lookback:  c.PreEventLookback,
			Lookahead: c.PreEventLookahead,
			FireMin:   c.PreEventFireMin,
			FireMax:   c.PreEventFireMax,
		},
		{
			Kind:      domain.KindLiveNow,
			Lookback:  c.LiveNowLookback,
			Lookahead: c.LiveNowLookahead,
		},
	}
}

func (c *Config) EmailSettings() email.Settings {
	return email.Settings{
		Provider:    c.EmailProvider,
		APIKey:      c.EmailAPIKey,
		APIURL:      c.EmailAPIURL,
		FromAddress: c.EmailFromAddress,
		FromName:    c.EmailFromName,
	}
}

func (c *Config) BulkSender() service.BulkSenderConfig {
	return service.BulkSenderConfig{
		Delay:        c.SendDelay,
		SendTimeout:  c.SendTimeout,
		RateLimitKey: strings.ToLower(strings.TrimSpace(c.EmailProvider)),
	}
}

func (c *Config) Scheduler() service.SchedulerConfig {
	return service.SchedulerConfig{
		Policies:     c.Policies(),
		Lease:        c.DispatchLease,
		Schedule:     c.TickSchedule,
		QueryTimeout: c.QueryTimeout,
	}
}

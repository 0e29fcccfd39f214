package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const DefaultSenderName = "OpenFarm"

var (
	ErrInvalidConfig = errors.New("invalid config")

	channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// CooldownMode selects how the send-failure gate behaves once tripped.
type CooldownMode string

const (
	CooldownBlock CooldownMode = "block"
	CooldownSkip  CooldownMode = "skip"
)

func (m *CooldownMode) UnmarshalEnvironmentValue(data string) error {
	mode := CooldownMode(strings.ToLower(strings.TrimSpace(data)))
	switch mode {
	case CooldownBlock, CooldownSkip:
		*m = mode
		return nil
	}
	return fmt.Errorf("%w: COOLDOWN_MODE must be %q or %q, got %q", ErrInvalidConfig, CooldownBlock, CooldownSkip, data)
}

type PostgresConfig struct {
	Host     string `env:"POSTGRES_HOST,required=true"`
	Port     int    `env:"POSTGRES_PORT,required=true"`
	Database string `env:"POSTGRES_DB,required=true"`
	User     string `env:"POSTGRES_USER,required=true"`
	Password string `env:"POSTGRES_PASSWORD,required=true"`
	SSLMode  string `env:"POSTGRES_SSLMODE"`
}

// DSN renders a postgres URL understood by both pgx and gorm's postgres driver.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type SMTPConfig struct {
	Host       string `env:"SMTPS_SERVER,required=true"`
	Port       int    `env:"SMTPS_PORT,required=true"`
	Username   string `env:"GMAIL_EMAIL,required=true"`
	Password   string `env:"GMAIL_APP_PASSWORD,required=true"`
	SenderName string `env:"SENDER_NAME,default=OpenFarm"`
}

type CooldownConfig struct {
	Threshold int           `env:"FAILURE_THRESHOLD,default=5"`
	Period    time.Duration `env:"COOLDOWN_PERIOD,default=15m"`
	Mode      CooldownMode  `env:"COOLDOWN_MODE,default=block"`
}

type Config struct {
	Postgres PostgresConfig
	SMTP     SMTPConfig
	Cooldown CooldownConfig

	NotifyChannel       string        `env:"NOTIFY_CHANNEL,default=new_ticket"`
	PollInterval        time.Duration `env:"POLL_INTERVAL,default=1s"`
	RescanInterval      time.Duration `env:"RESCAN_INTERVAL,default=0s"`
	QueryTimeout        time.Duration `env:"QUERY_TIMEOUT,default=10s"`
	SendRateLimitPerSec int           `env:"SEND_RATE_LIMIT_PER_SEC,default=0"`
	RedisURL            string        `env:"REDIS_URL"`
	MigrateOnStart      bool          `env:"MIGRATE_ON_START,default=false"`
	OpsPort             int           `env:"OPS_PORT,default=8080"`
	LogLevel            string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if strings.TrimSpace(cfg.SMTP.SenderName) == "" {
		cfg.SMTP.SenderName = DefaultSenderName
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Postgres.Host) == "" {
		return fmt.Errorf("%w: POSTGRES_HOST must not be empty", ErrInvalidConfig)
	}
	if !validPort(c.Postgres.Port) {
		return fmt.Errorf("%w: POSTGRES_PORT %d out of range", ErrInvalidConfig, c.Postgres.Port)
	}
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return fmt.Errorf("%w: SMTPS_SERVER must not be empty", ErrInvalidConfig)
	}
	if !validPort(c.SMTP.Port) {
		return fmt.Errorf("%w: SMTPS_PORT %d out of range", ErrInvalidConfig, c.SMTP.Port)
	}
	if strings.TrimSpace(c.SMTP.Username) == "" {
		return fmt.Errorf("%w: GMAIL_EMAIL must not be empty", ErrInvalidConfig)
	}
	if !channelPattern.MatchString(c.NotifyChannel) {
		return fmt.Errorf("%w: NOTIFY_CHANNEL %q is not a valid channel name", ErrInvalidConfig, c.NotifyChannel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL must be positive", ErrInvalidConfig)
	}
	if c.RescanInterval < 0 {
		return fmt.Errorf("%w: RESCAN_INTERVAL must not be negative", ErrInvalidConfig)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("%w: QUERY_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.Cooldown.Threshold < 1 {
		return fmt.Errorf("%w: FAILURE_THRESHOLD must be at least 1", ErrInvalidConfig)
	}
	if c.Cooldown.Period <= 0 {
		return fmt.Errorf("%w: COOLDOWN_PERIOD must be positive", ErrInvalidConfig)
	}
	if c.SendRateLimitPerSec < 0 {
		return fmt.Errorf("%w: SEND_RATE_LIMIT_PER_SEC must not be negative", ErrInvalidConfig)
	}
	if c.OpsPort != 0 && !validPort(c.OpsPort) {
		return fmt.Errorf("%w: OPS_PORT %d out of range", ErrInvalidConfig, c.OpsPort)
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	MySQL     DatabaseConfig  `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Wake      WakeConfig      `mapstructure:"wake"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // mysql | memory
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaTopics struct {
	Responses   string `mapstructure:"responses"`
	Enrollments string `mapstructure:"enrollments"`
}

type KafkaConfig struct {
	Brokers        []string    `mapstructure:"brokers"`
	GroupID        string      `mapstructure:"group_id"`
	MinBytes       int         `mapstructure:"min_bytes"`
	MaxBytes       int         `mapstructure:"max_bytes"`
	CommitInterval int         `mapstructure:"commit_interval_ms"`
	Topics         KafkaTopics `mapstructure:"topics"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	MaxRPS    float64       `mapstructure:"max_rps"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type SchedulerConfig struct {
	Timezone            string        `mapstructure:"timezone"`
	CollisionWindow     time.Duration `mapstructure:"collision_window"`
	LeadTime            time.Duration `mapstructure:"lead_time"`
	MinLead             time.Duration `mapstructure:"min_lead"`
	PaddedLead          time.Duration `mapstructure:"padded_lead"`
	MaxIdleSleep        time.Duration `mapstructure:"max_idle_sleep"`
	MinSleep            time.Duration `mapstructure:"min_sleep"`
	EnrollmentInterval  time.Duration `mapstructure:"enrollment_interval"`
	EnrollmentBatch     int           `mapstructure:"enrollment_batch"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	Guard               string        `mapstructure:"guard"` // local | redis
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type WakeConfig struct {
	Driver  string `mapstructure:"driver"` // local | redis
	Channel string `mapstructure:"channel"`
}

var ErrInvalid = errors.New("invalid config")

// Location resolves the configured working-hours timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Validate() error {
	s := c.Scheduler
	if _, err := s.Location(); err != nil {
		return err
	}
	switch {
	case s.CollisionWindow <= 0:
		return fmt.Errorf("%w: scheduler.collision_window must be > 0", ErrInvalid)
	case s.LeadTime <= 0 || s.MinLead < 0 || s.PaddedLead < s.LeadTime:
		return fmt.Errorf("%w: scheduler lead times (lead=%s min=%s padded=%s)", ErrInvalid, s.LeadTime, s.MinLead, s.PaddedLead)
	case s.MinSleep <= 0 || s.MaxIdleSleep < s.MinSleep:
		return fmt.Errorf("%w: scheduler sleep bounds (min=%s max=%s)", ErrInvalid, s.MinSleep, s.MaxIdleSleep)
	case s.EnrollmentInterval <= 0 || s.EnrollmentBatch <= 0:
		return fmt.Errorf("%w: scheduler enrollment interval/batch", ErrInvalid)
	case s.DispatchConcurrency <= 0:
		return fmt.Errorf("%w: scheduler.dispatch_concurrency must be > 0", ErrInvalid)
	case s.LockTTL <= 0:
		return fmt.Errorf("%w: scheduler.lock_ttl must be > 0", ErrInvalid)
	}
	switch c.Store.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("%w: store.driver %q", ErrInvalid, c.Store.Driver)
	}
	return nil
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (OUTREACH_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (OUTREACH_SCHEDULER_TIMEZONE etc.)
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

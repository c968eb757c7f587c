package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	stringsx "rollcall/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string `yaml:"addr"`
	Environment    string `yaml:"environment"`
	AdminToken     string `yaml:"-"`
	// AdminTokenHash is a bcrypt hash accepted instead of AdminToken.
	AdminTokenHash string `yaml:"-"`
	// AdminJWTSecret signs operator bearer tokens issued by rollcallctl.
	AdminJWTSecret string `yaml:"-"`
	LogLevel       string `yaml:"log_level"`
}

// Database configures the Postgres connection pool.
type Database struct {
	// Driver is "pgx" (default) or "postgres" for lib/pq.
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"-"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the legacy snapshot cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"-"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka configures the notification publisher. No brokers means notifications
// are only logged.
type Kafka struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	EventsTopic        string   `yaml:"events_topic"`
	CreateTopics       bool     `yaml:"create_topics"`
}

// Legacy configures the legacy source client.
type Legacy struct {
	BaseURL          string        `yaml:"base_url"`
	PersonURL        string        `yaml:"person_url"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// Policy holds the identity resolution thresholds. Every value has a default
// and may be overridden from the policy file or the environment.
type Policy struct {
	RecentInvitationWindow time.Duration `yaml:"recent_invitation_window"`
	AuditRecentWindow      time.Duration `yaml:"audit_recent_window"`
	MergeTxTimeout         time.Duration `yaml:"merge_tx_timeout"`
	SyncInterval           time.Duration `yaml:"sync_interval"`
	SyncStaleAfter         time.Duration `yaml:"sync_stale_after"`
	SyncBatchSize          int           `yaml:"sync_batch_size"`
	SyncConcurrency        int           `yaml:"sync_concurrency"`
	DispatchQueueSize      int           `yaml:"dispatch_queue_size"`
}

// Config is the full process configuration.
type Config struct {
	Server   Server      `yaml:"server"`
	Database Database    `yaml:"database"`
	Redis    RedisConfig `yaml:"redis"`
	Kafka    Kafka       `yaml:"kafka"`
	Legacy   Legacy      `yaml:"legacy"`
	Policy   Policy      `yaml:"policy"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:        ":8080",
			Environment: "dev",
			LogLevel:    "info",
		},
		Database: Database{
			Driver:          "pgx",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			NotificationsTopic: "rollcall.notifications",
			EventsTopic:        "rollcall.identity-events",
		},
		Legacy: Legacy{
			Timeout:          10 * time.Second,
			CacheTTL:         5 * time.Minute,
			FailureThreshold: 5,
		},
		Policy: Policy{
			RecentInvitationWindow: 24 * time.Hour,
			AuditRecentWindow:      7 * 24 * time.Hour,
			MergeTxTimeout:         5 * time.Second,
			SyncInterval:           time.Hour,
			SyncStaleAfter:         24 * time.Hour,
			SyncBatchSize:          100,
			SyncConcurrency:        4,
			DispatchQueueSize:      256,
		},
	}
}

// Load builds configuration with precedence (highest first):
//  1. Environment variables
//  2. .env.local then .env in the working directory (dotenv)
//  3. the YAML policy file named by ROLLCALL_CONFIG_FILE
//  4. Default()
func Load() (*Config, error) {
	cfg := Default()

	for _, path := range []string{".env.local", ".env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if path := os.Getenv("ROLLCALL_CONFIG_FILE"); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "ROLLCALL_ADDR")
	setString(&cfg.Server.Environment, "ROLLCALL_ENV")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")
	setString(&cfg.Server.AdminToken, "ROLLCALL_ADMIN_TOKEN")
	setString(&cfg.Server.AdminTokenHash, "ROLLCALL_ADMIN_TOKEN_HASH")
	setString(&cfg.Server.AdminJWTSecret, "ROLLCALL_ADMIN_JWT_SECRET")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Legacy.BaseURL, "LEGACY_BASE_URL")
	setString(&cfg.Legacy.PersonURL, "LEGACY_PERSON_URL")
	setString(&cfg.Kafka.NotificationsTopic, "KAFKA_NOTIFICATIONS_TOPIC")
	setString(&cfg.Kafka.EventsTopic, "KAFKA_EVENTS_TOPIC")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = stringsx.SplitList(brokers, ",")
	}
	if v := os.Getenv("KAFKA_CREATE_TOPICS"); v != "" {
		cfg.Kafka.CreateTopics = v == "true"
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.Legacy.Timeout, "LEGACY_TIMEOUT"},
		{&cfg.Legacy.CacheTTL, "LEGACY_CACHE_TTL"},
		{&cfg.Policy.RecentInvitationWindow, "POLICY_RECENT_INVITATION_WINDOW"},
		{&cfg.Policy.AuditRecentWindow, "POLICY_AUDIT_RECENT_WINDOW"},
		{&cfg.Policy.MergeTxTimeout, "POLICY_MERGE_TX_TIMEOUT"},
		{&cfg.Policy.SyncInterval, "POLICY_SYNC_INTERVAL"},
		{&cfg.Policy.SyncStaleAfter, "POLICY_SYNC_STALE_AFTER"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Database.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS"},
		{&cfg.Legacy.FailureThreshold, "LEGACY_FAILURE_THRESHOLD"},
		{&cfg.Policy.SyncBatchSize, "POLICY_SYNC_BATCH_SIZE"},
		{&cfg.Policy.SyncConcurrency, "POLICY_SYNC_CONCURRENCY"},
		{&cfg.Policy.DispatchQueueSize, "POLICY_DISPATCH_QUEUE_SIZE"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Policy.RecentInvitationWindow <= 0 {
		errs = append(errs, errors.New("policy.recent_invitation_window must be positive"))
	}
	if c.Policy.AuditRecentWindow <= 0 {
		errs = append(errs, errors.New("policy.audit_recent_window must be positive"))
	}
	if c.Policy.MergeTxTimeout <= 0 {
		errs = append(errs, errors.New("policy.merge_tx_timeout must be positive"))
	}
	if c.Policy.SyncConcurrency < 1 {
		errs = append(errs, errors.New("policy.sync_concurrency must be at least 1"))
	}
	if c.Policy.SyncBatchSize < 1 {
		errs = append(errs, errors.New("policy.sync_batch_size must be at least 1"))
	}
	if c.Policy.DispatchQueueSize < 1 {
		errs = append(errs, errors.New("policy.dispatch_queue_size must be at least 1"))
	}
	if c.Legacy.FailureThreshold < 1 {
		errs = append(errs, errors.New("legacy.failure_threshold must be at least 1"))
	}
	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("database.driver %q must be pgx or postgres", c.Database.Driver))
	}
	if !c.IsDev() && c.Server.AdminToken == "" && c.Server.AdminTokenHash == "" && c.Server.AdminJWTSecret == "" {
		errs = append(errs, errors.New("ROLLCALL_ADMIN_TOKEN, ROLLCALL_ADMIN_TOKEN_HASH or ROLLCALL_ADMIN_JWT_SECRET is required outside dev"))
	}
	if s := c.Server.AdminJWTSecret; s != "" && len(s) < 32 {
		errs = append(errs, errors.New("ROLLCALL_ADMIN_JWT_SECRET must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the process runs in the local development environment.
func (c *Config) IsDev() bool {
	return c.Server.Environment == "" || c.Server.Environment == "dev"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

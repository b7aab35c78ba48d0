package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/fundingedge/internal/ops"
	"github.com/sawpanic/fundingedge/internal/persistence/postgres"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// AppConfig aggregates every YAML-configurable concern a running service
// needs: the two logical databases (§6), the response cache, per-venue
// operational switches, and the cron dispatcher's intervals.
type AppConfig struct {
	Primary   DatabaseConfig  `yaml:"primary"`
	Unified   DatabaseConfig  `yaml:"unified"`
	Cache     CacheConfig     `yaml:"cache"`
	Venues    VenuesConfig    `yaml:"venues"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig mirrors postgres.DSN with YAML tags and an Enabled flag,
// following the teacher's database-config-section pattern.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN converts the loaded config into the connection parameters postgres.Connect expects.
func (d DatabaseConfig) DSN() postgres.DSN {
	return postgres.DSN{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		QueryTimeout:    d.QueryTimeout,
	}
}

// CacheConfig configures the optional key-value response cache (§6).
type CacheConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Addr              string `yaml:"addr"`
	DB                int    `yaml:"db"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
}

// DefaultTTL returns the configured default TTL as a time.Duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// VenuesConfig seeds the per-venue enable/disable switches (§5, internal/ops).
type VenuesConfig struct {
	Enabled map[venue.Tag]bool `yaml:"enabled"`
}

// SwitchConfig converts the loaded venue list into ops.VenueSwitchConfig,
// defaulting every registered venue to enabled when unspecified.
func (v VenuesConfig) SwitchConfig() ops.VenueSwitchConfig {
	enabled := make(map[venue.Tag]bool, len(venue.All))
	for _, tag := range venue.All {
		enabled[tag] = true
	}
	for tag, on := range v.Enabled {
		enabled[tag] = on
	}
	return ops.VenueSwitchConfig{Enabled: enabled}
}

// SchedulerConfig configures the two cron schedules (§6): the 5-minute
// rollup/live-view/MA/arbitrage pass and the hourly rollup pass.
type SchedulerConfig struct {
	FiveMinuteInterval time.Duration `yaml:"five_minute_interval"`
	HourlyInterval     time.Duration `yaml:"hourly_interval"`
}

// LoadAppConfig loads the YAML config at path (if it exists), applies
// environment overrides to both database sections, and fills unset values
// with sane defaults, following the teacher's LoadAppConfig pattern.
func LoadAppConfig(configPath string) (*AppConfig, error) {
	var cfg AppConfig

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	applyDBEnvOverrides("PRIMARY_PG", &cfg.Primary)
	applyDBEnvOverrides("UNIFIED_PG", &cfg.Unified)

	applyDefaults(&cfg.Primary)
	applyDefaults(&cfg.Unified)

	if cfg.Cache.DefaultTTLSeconds == 0 {
		cfg.Cache.DefaultTTLSeconds = 60
	}
	if cfg.Scheduler.FiveMinuteInterval == 0 {
		cfg.Scheduler.FiveMinuteInterval = 5 * time.Minute
	}
	if cfg.Scheduler.HourlyInterval == 0 {
		cfg.Scheduler.HourlyInterval = time.Hour
	}

	return &cfg, nil
}

func applyDefaults(d *DatabaseConfig) {
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 10
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = 5
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = 30 * time.Minute
	}
	if d.QueryTimeout == 0 {
		d.QueryTimeout = 30 * time.Second
	}
}

// applyDBEnvOverrides reads <prefix>_HOST/_PORT/_USER/_PASSWORD/_DATABASE/
// _ENABLED/_MAX_OPEN_CONNS/_MAX_IDLE_CONNS/_CONN_MAX_LIFETIME/_QUERY_TIMEOUT,
// the same override shape the teacher uses for its single PG_* database
// section, generalized to two independently configurable databases.
func applyDBEnvOverrides(prefix string, d *DatabaseConfig) {
	if v := os.Getenv(prefix + "_HOST"); v != "" {
		d.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.Port = n
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		d.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		d.Password = v
	}
	if v := os.Getenv(prefix + "_DATABASE"); v != "" {
		d.Database = v
	}
	if v := os.Getenv(prefix + "_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			d.Enabled = b
		}
	}
	if v := os.Getenv(prefix + "_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.MaxOpenConns = n
		}
	}
	if v := os.Getenv(prefix + "_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.MaxIdleConns = n
		}
	}
	if v := os.Getenv(prefix + "_CONN_MAX_LIFETIME"); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			d.ConnMaxLifetime = dur
		}
	}
	if v := os.Getenv(prefix + "_QUERY_TIMEOUT"); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			d.QueryTimeout = dur
		}
	}
}

// Validate checks the loaded config for internal consistency.
func (c *AppConfig) Validate() error {
	for name, d := range map[string]DatabaseConfig{"primary": c.Primary, "unified": c.Unified} {
		if d.Enabled && d.Database == "" {
			return fmt.Errorf("%s database: database name is required when enabled", name)
		}
		if d.MaxOpenConns <= 0 {
			return fmt.Errorf("%s database: max_open_conns must be positive", name)
		}
		if d.MaxIdleConns < 0 || d.MaxIdleConns > d.MaxOpenConns {
			return fmt.Errorf("%s database: max_idle_conns must be between 0 and max_open_conns", name)
		}
		if d.QueryTimeout <= 0 {
			return fmt.Errorf("%s database: query_timeout must be positive", name)
		}
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache: addr is required when enabled")
	}
	if c.Scheduler.FiveMinuteInterval <= 0 || c.Scheduler.HourlyInterval <= 0 {
		return fmt.Errorf("scheduler: intervals must be positive")
	}
	return nil
}

// Package config carrega a configuração dos binários com viper.
//
// Ordem de precedência: variáveis THROTTLE_* > arquivo (YAML/JSON/TOML) > padrões.
// Chaves aninhadas viram variáveis com "_" (ex.: throttle.failOpen -> THROTTLE_THROTTLE_FAILOPEN).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"throttle-gateway/internal/logging"
	"throttle-gateway/internal/redisconn"
	"throttle-gateway/middleware/throttle/domain"

	"github.com/spf13/viper"
)

const EnvPrefix = "THROTTLE"

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

type Config struct {
	Listen   string           `mapstructure:"listen"`
	Upstream string           `mapstructure:"upstream"`
	Log      logging.Config   `mapstructure:"log"`
	Redis    redisconn.Config `mapstructure:"redis"`
	Throttle ThrottleConfig   `mapstructure:"throttle"`
	Stats    StatsConfig      `mapstructure:"stats"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
}

type ThrottleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // local | redis
	Policy  string `mapstructure:"policy"`  // time | count
	// Interval vale para a política "time"; Threshold para "count".
	Interval  time.Duration `mapstructure:"interval"`
	Threshold int64         `mapstructure:"threshold"`

	NamePrefix string        `mapstructure:"namePrefix"`
	KeyHeader  string        `mapstructure:"keyHeader"`
	TrustXFF   bool          `mapstructure:"trustXFF"`
	RetryAfter time.Duration `mapstructure:"retryAfter"`
	FailOpen   bool          `mapstructure:"failOpen"`
	AddHeaders bool          `mapstructure:"addHeaders"`

	// backend redis
	KeyPrefix string        `mapstructure:"keyPrefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
	TTL       time.Duration `mapstructure:"ttl"`

	// backend local
	IdleTTL      time.Duration `mapstructure:"idleTTL"`
	CleanupEvery time.Duration `mapstructure:"cleanupEvery"`
}

type StatsConfig struct {
	Redis      bool          `mapstructure:"redis"`
	Prefix     string        `mapstructure:"prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	Bucket     string        `mapstructure:"bucket"`
	TrackNames bool          `mapstructure:"trackNames"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// PolicyValue converte a configuração em domain.Policy (valida o tipo).
func (c ThrottleConfig) PolicyValue() (domain.Policy, error) {
	kind, err := domain.ParsePolicyKind(c.Policy)
	if err != nil {
		return domain.Policy{}, err
	}
	var p domain.Policy
	if kind == domain.PolicyTime {
		p = domain.TimeBased(c.Interval)
	} else {
		p = domain.CountBased(c.Threshold)
	}
	return p, p.Validate()
}

func (c Config) UsesRedis() bool {
	return (c.Throttle.Enabled && c.Throttle.Backend == BackendRedis) || c.Stats.Redis
}

func (c Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.Throttle.Enabled {
		switch c.Throttle.Backend {
		case BackendLocal, BackendRedis:
		default:
			return fmt.Errorf("throttle.backend: unknown backend %q", c.Throttle.Backend)
		}
		if _, err := c.Throttle.PolicyValue(); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
	}
	if c.UsesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr is required for the redis backend or redis stats")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("upstream", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.maxSizeMB", 100)
	v.SetDefault("log.file.maxBackups", 5)
	v.SetDefault("log.file.maxAgeDays", 7)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dialTimeout", 2*time.Second)
	v.SetDefault("redis.readTimeout", time.Second)
	v.SetDefault("redis.writeTimeout", time.Second)
	v.SetDefault("redis.startupWait", 30*time.Second)

	v.SetDefault("throttle.enabled", true)
	v.SetDefault("throttle.backend", BackendLocal)
	v.SetDefault("throttle.policy", string(domain.PolicyTime))
	v.SetDefault("throttle.interval", 100*time.Millisecond)
	v.SetDefault("throttle.threshold", 0)
	v.SetDefault("throttle.namePrefix", "client:")
	v.SetDefault("throttle.keyHeader", "")
	v.SetDefault("throttle.trustXFF", false)
	v.SetDefault("throttle.retryAfter", 0)
	v.SetDefault("throttle.failOpen", false)
	v.SetDefault("throttle.addHeaders", false)
	v.SetDefault("throttle.keyPrefix", "throttle:")
	v.SetDefault("throttle.timeout", 5*time.Second)
	v.SetDefault("throttle.ttl", 24*time.Hour)
	v.SetDefault("throttle.idleTTL", 15*time.Minute)
	v.SetDefault("throttle.cleanupEvery", 2*time.Minute)

	v.SetDefault("stats.redis", false)
	v.SetDefault("stats.prefix", "throttle:stats")
	v.SetDefault("stats.ttl", 24*time.Hour)
	v.SetDefault("stats.bucket", "minute")
	v.SetDefault("stats.trackNames", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "gateway")
}

// NewViper devolve um viper já com padrões e leitura de ambiente.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load lê o arquivo (se path != "") e as variáveis de ambiente e valida o resultado.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Throttle.Backend = strings.ToLower(strings.TrimSpace(cfg.Throttle.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Package config loads the storefront server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SLIDINGRATE_* environment variables (e.g. SLIDINGRATE_POLICIES_CHECKOUT_MAX_ATTEMPTS).
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/cnlangzi/slidingrate/keyed"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SLIDINGRATE"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustCrawlers lets verified search engine crawlers bypass rate limits.
	TrustCrawlers bool `mapstructure:"trust_crawlers"`
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For headers are believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address becomes a single-host prefix.
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: server.trusted_proxies: %v", ErrInvalidConfig, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: server.trusted_proxies: %v", ErrInvalidConfig, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Environment string `mapstructure:"environment"`
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
}

// PolicyConfig is the sliding-window limit for one group of endpoints.
type PolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	MaxKeys     int           `mapstructure:"max_keys"`
}

// Registry converts the policy into a keyed.Config.
func (p PolicyConfig) Registry() keyed.Config {
	return keyed.Config{
		MaxAttempts: p.MaxAttempts,
		Window:      p.Window,
		MaxKeys:     p.MaxKeys,
	}
}

// DefaultPolicies are the storefront's built-in limits.
var DefaultPolicies = map[string]PolicyConfig{
	"checkout": {MaxAttempts: 3, Window: time.Minute},
	"contact":  {MaxAttempts: 5, Window: 10 * time.Minute},
	"wishlist": {MaxAttempts: 30, Window: time.Minute},
}

// Load reads configuration. path may be empty to use defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	if _, err := c.Server.ProxyPrefixes(); err != nil {
		return err
	}

	for _, name := range c.PolicyNames() {
		p := c.Policies[name]
		if p.Window <= 0 {
			return fmt.Errorf("%w: policies.%s.window must be positive, got %s", ErrInvalidConfig, name, p.Window)
		}
		if p.MaxAttempts < 0 {
			return fmt.Errorf("%w: policies.%s.max_attempts must not be negative, got %d", ErrInvalidConfig, name, p.MaxAttempts)
		}
	}
	return nil
}

// PolicyNames returns the configured policy names in sorted order.
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trust_crawlers", true)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("logging.environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	for name, p := range DefaultPolicies {
		v.SetDefault("policies."+name+".max_attempts", p.MaxAttempts)
		v.SetDefault("policies."+name+".window", p.Window)
		v.SetDefault("policies."+name+".max_keys", p.MaxKeys)
	}
}

// Package config handles environment-based configuration loading for the
// agent daemon, plus an optional local YAML override file for development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvConfig holds all environment-variable-driven settings for the agent.
type EnvConfig struct {
	// Directories
	RootDir string // agent.json, auth/, and cache subdirectories live here

	// Backend
	BackendBaseURL string

	// MQTT
	MQTTBrokerURL string

	// Core
	CacheCapacitySchemas         int
	CacheCapacityConfigInstances int
	CacheCapacityDigests         int
	CacheCapacityConcreteConfigs int

	SyncInterval         time.Duration
	SyncCronSchedule     string
	SyncPushConcurrency  int
	SyncShutdownDeadline time.Duration

	CooldownBaseSecs     int64
	CooldownGrowthFactor int64
	CooldownMaxSecs      int64

	TokenRefreshSkew time.Duration

	HTTPRequestTimeout time.Duration

	// Local server
	ListenAddress string
}

// LoadEnvConfig reads environment variables, applies an optional local YAML
// override, and returns a validated EnvConfig.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.RootDir = envStr("MIRU_AGENT_ROOT_DIR", "/var/lib/miru/agent")
	cfg.BackendBaseURL = envStr("MIRU_AGENT_BACKEND_BASE_URL", "https://configs.api.miruml.com/agent/v1")
	cfg.MQTTBrokerURL = envStr("MIRU_AGENT_MQTT_BROKER_URL", "tls://mqtt.miruml.com:8883")

	cfg.CacheCapacitySchemas = envInt("MIRU_AGENT_CACHE_CAPACITY_SCHEMAS", 256, &errs)
	cfg.CacheCapacityConfigInstances = envInt("MIRU_AGENT_CACHE_CAPACITY_CONFIG_INSTANCES", 512, &errs)
	cfg.CacheCapacityDigests = envInt("MIRU_AGENT_CACHE_CAPACITY_DIGESTS", 256, &errs)
	cfg.CacheCapacityConcreteConfigs = envInt("MIRU_AGENT_CACHE_CAPACITY_CONCRETE_CONFIGS", 256, &errs)

	cfg.SyncInterval = envDuration("MIRU_AGENT_SYNC_INTERVAL", 30*time.Second, &errs)
	cfg.SyncCronSchedule = envStr("MIRU_AGENT_SYNC_CRON_SCHEDULE", "* * * * *")
	cfg.SyncPushConcurrency = envInt("MIRU_AGENT_SYNC_PUSH_CONCURRENCY", 4, &errs)
	cfg.SyncShutdownDeadline = envDuration("MIRU_AGENT_SYNC_SHUTDOWN_DEADLINE", 5*time.Second, &errs)

	cfg.CooldownBaseSecs = int64(envInt("MIRU_AGENT_COOLDOWN_BASE_SECS", 15, &errs))
	cfg.CooldownGrowthFactor = int64(envInt("MIRU_AGENT_COOLDOWN_GROWTH_FACTOR", 2, &errs))
	cfg.CooldownMaxSecs = int64(envInt("MIRU_AGENT_COOLDOWN_MAX_SECS", 12*60*60, &errs))

	cfg.TokenRefreshSkew = envDuration("MIRU_AGENT_TOKEN_REFRESH_SKEW", 30*time.Second, &errs)
	cfg.HTTPRequestTimeout = envDuration("MIRU_AGENT_HTTP_REQUEST_TIMEOUT", 15*time.Second, &errs)

	cfg.ListenAddress = envStr("MIRU_AGENT_LISTEN_ADDRESS", "127.0.0.1:8554")

	if err := applyLocalOverride(cfg); err != nil {
		errs = append(errs, err.Error())
	}

	// --- Validation ---
	if cfg.RootDir == "" {
		errs = append(errs, "MIRU_AGENT_ROOT_DIR must not be empty")
	}
	if _, err := url.Parse(cfg.BackendBaseURL); err != nil || cfg.BackendBaseURL == "" {
		errs = append(errs, fmt.Sprintf("MIRU_AGENT_BACKEND_BASE_URL: invalid URL %q", cfg.BackendBaseURL))
	}
	if cfg.MQTTBrokerURL == "" {
		errs = append(errs, "MIRU_AGENT_MQTT_BROKER_URL must not be empty")
	}
	validatePositive("MIRU_AGENT_CACHE_CAPACITY_SCHEMAS", cfg.CacheCapacitySchemas, &errs)
	validatePositive("MIRU_AGENT_CACHE_CAPACITY_CONFIG_INSTANCES", cfg.CacheCapacityConfigInstances, &errs)
	validatePositive("MIRU_AGENT_CACHE_CAPACITY_DIGESTS", cfg.CacheCapacityDigests, &errs)
	validatePositive("MIRU_AGENT_CACHE_CAPACITY_CONCRETE_CONFIGS", cfg.CacheCapacityConcreteConfigs, &errs)
	if cfg.SyncInterval <= 0 {
		errs = append(errs, "MIRU_AGENT_SYNC_INTERVAL must be positive")
	}
	if _, err := cron.ParseStandard(cfg.SyncCronSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("MIRU_AGENT_SYNC_CRON_SCHEDULE: invalid cron expression %q: %v", cfg.SyncCronSchedule, err))
	}
	validatePositive("MIRU_AGENT_SYNC_PUSH_CONCURRENCY", cfg.SyncPushConcurrency, &errs)
	if cfg.SyncShutdownDeadline <= 0 {
		errs = append(errs, "MIRU_AGENT_SYNC_SHUTDOWN_DEADLINE must be positive")
	}
	if cfg.CooldownBaseSecs <= 0 {
		errs = append(errs, "MIRU_AGENT_COOLDOWN_BASE_SECS must be positive")
	}
	if cfg.CooldownGrowthFactor <= 1 {
		errs = append(errs, "MIRU_AGENT_COOLDOWN_GROWTH_FACTOR must be greater than 1")
	}
	if cfg.CooldownMaxSecs < cfg.CooldownBaseSecs {
		errs = append(errs, "MIRU_AGENT_COOLDOWN_MAX_SECS must be >= MIRU_AGENT_COOLDOWN_BASE_SECS")
	}
	if cfg.TokenRefreshSkew < 0 {
		errs = append(errs, "MIRU_AGENT_TOKEN_REFRESH_SKEW must not be negative")
	}
	if cfg.HTTPRequestTimeout <= 0 {
		errs = append(errs, "MIRU_AGENT_HTTP_REQUEST_TIMEOUT must be positive")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "MIRU_AGENT_LISTEN_ADDRESS must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// localOverride mirrors the subset of EnvConfig that may be overridden by
// agent.local.yaml, found at $MIRU_AGENT_LOCAL_CONFIG (default
// "./agent.local.yaml"). Absence of the file is not an error.
type localOverride struct {
	RootDir        *string `yaml:"root_dir"`
	BackendBaseURL *string `yaml:"backend_base_url"`
	MQTTBrokerURL  *string `yaml:"mqtt_broker_url"`
	ListenAddress  *string `yaml:"listen_address"`

	SyncInterval       *Duration `yaml:"sync_interval"`
	TokenRefreshSkew   *Duration `yaml:"token_refresh_skew"`
	HTTPRequestTimeout *Duration `yaml:"http_request_timeout"`
}

func applyLocalOverride(cfg *EnvConfig) error {
	path := envStr("MIRU_AGENT_LOCAL_CONFIG", "agent.local.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("local override %s: %w", path, err)
	}

	var override localOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("local override %s: %w", path, err)
	}

	if override.RootDir != nil {
		cfg.RootDir = *override.RootDir
	}
	if override.BackendBaseURL != nil {
		cfg.BackendBaseURL = *override.BackendBaseURL
	}
	if override.MQTTBrokerURL != nil {
		cfg.MQTTBrokerURL = *override.MQTTBrokerURL
	}
	if override.ListenAddress != nil {
		cfg.ListenAddress = *override.ListenAddress
	}
	if override.SyncInterval != nil {
		cfg.SyncInterval = override.SyncInterval.Std()
	}
	if override.TokenRefreshSkew != nil {
		cfg.TokenRefreshSkew = override.TokenRefreshSkew.Std()
	}
	if override.HTTPRequestTimeout != nil {
		cfg.HTTPRequestTimeout = override.HTTPRequestTimeout.Std()
	}
	return nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

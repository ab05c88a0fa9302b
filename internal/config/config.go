package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the gateway.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"  toml:"upstream"`
	Assistant AssistantConfig `mapstructure:"assistant" toml:"assistant"`
	Routing   RoutingConfig   `mapstructure:"routing"   toml:"routing"`
	CORS      CORSConfig      `mapstructure:"cors"      toml:"cors"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   toml:"metrics"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	MetricsPort  int    `mapstructure:"metrics_port"  toml:"metrics_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// UpstreamConfig describes the chat-completion API the gateway forwards to.
type UpstreamConfig struct {
	APIBase         string  `mapstructure:"api_base"          toml:"api_base"`
	Model           string  `mapstructure:"model"             toml:"model"`
	KeyRef          string  `mapstructure:"key_ref"           toml:"key_ref"`
	Temperature     float64 `mapstructure:"temperature"       toml:"temperature"`
	Timeout         int     `mapstructure:"timeout"           toml:"timeout"` // seconds, 0 = none
	MaxExcerpt      int     `mapstructure:"max_excerpt"       toml:"max_excerpt"`
	MaxResponseSize int64   `mapstructure:"max_response_size" toml:"max_response_size"`
}

// TimeoutDuration returns the upstream timeout as a time.Duration.
// Zero means no timeout.
func (u UpstreamConfig) TimeoutDuration() time.Duration {
	if u.Timeout <= 0 {
		return 0
	}
	return time.Duration(u.Timeout) * time.Second
}

// AssistantConfig holds the reply defaults applied to absent request fields.
type AssistantConfig struct {
	DefaultName  string `mapstructure:"default_name"  toml:"default_name"`
	DefaultStyle string `mapstructure:"default_style" toml:"default_style"`
}

// RoutingConfig controls inbound path normalization.
type RoutingConfig struct {
	ProxyPrefix  string   `mapstructure:"proxy_prefix"  toml:"proxy_prefix"`
	ReplyRoute   string   `mapstructure:"reply_route"   toml:"reply_route"`
	ReplyAliases []string `mapstructure:"reply_aliases" toml:"reply_aliases"`
	HealthRoute  string   `mapstructure:"health_route"  toml:"health_route"`
}

// CORSConfig controls the headers sent on every gateway response.
type CORSConfig struct {
	AllowOrigin  string `mapstructure:"allow_origin"  toml:"allow_origin"`
	AllowMethods string `mapstructure:"allow_methods" toml:"allow_methods"`
	AllowHeaders string `mapstructure:"allow_headers" toml:"allow_headers"`
	MaxAge       int    `mapstructure:"max_age"       toml:"max_age"` // seconds
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "anchor"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the Prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (ANCHOR_ prefix, _ as separator; OPENAI_MODEL
//     is also honoured for upstream.model)
//  2. The file at explicitPath if non-empty
//  3. ~/.anchor/anchor.toml
//  4. ./anchor.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: ANCHOR_SERVER_PORT etc.
	v.SetEnvPrefix("ANCHOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The hosting environment historically exported OPENAI_MODEL.
	if err := v.BindEnv("upstream.model", "ANCHOR_UPSTREAM_MODEL", "OPENAI_MODEL"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".anchor"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("anchor")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = ExpandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.anchor/anchor.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".anchor")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	if err := writeTOML(path, DefaultConfig()); err != nil {
		return err
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	return writeTOML(path, Get())
}

func writeTOML(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Upstream
	v.SetDefault("upstream.api_base", d.Upstream.APIBase)
	v.SetDefault("upstream.model", d.Upstream.Model)
	v.SetDefault("upstream.key_ref", d.Upstream.KeyRef)
	v.SetDefault("upstream.temperature", d.Upstream.Temperature)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.max_excerpt", d.Upstream.MaxExcerpt)
	v.SetDefault("upstream.max_response_size", d.Upstream.MaxResponseSize)

	// Assistant
	v.SetDefault("assistant.default_name", d.Assistant.DefaultName)
	v.SetDefault("assistant.default_style", d.Assistant.DefaultStyle)

	// Routing
	v.SetDefault("routing.proxy_prefix", d.Routing.ProxyPrefix)
	v.SetDefault("routing.reply_route", d.Routing.ReplyRoute)
	v.SetDefault("routing.reply_aliases", d.Routing.ReplyAliases)
	v.SetDefault("routing.health_route", d.Routing.HealthRoute)

	// CORS
	v.SetDefault("cors.allow_origin", d.CORS.AllowOrigin)
	v.SetDefault("cors.allow_methods", d.CORS.AllowMethods)
	v.SetDefault("cors.allow_headers", d.CORS.AllowHeaders)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

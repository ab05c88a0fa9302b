package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		mention string
	}{
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"metrics port zero", func(c *Config) { c.Server.MetricsPort = 0 }, "metrics_port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"empty data dir", func(c *Config) { c.Server.DataDir = "" }, "data_dir"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "cert_file"},
		{"negative body size", func(c *Config) { c.Server.MaxBodySize = -1 }, "max_body_size"},
		{"relative api base", func(c *Config) { c.Upstream.APIBase = "api.openai.com" }, "api_base"},
		{"empty model", func(c *Config) { c.Upstream.Model = "  " }, "upstream.model"},
		{"plain key ref", func(c *Config) { c.Upstream.KeyRef = "sk-live-secret" }, "key_ref"},
		{"temperature too high", func(c *Config) { c.Upstream.Temperature = 3 }, "temperature"},
		{"temperature above steady range", func(c *Config) { c.Upstream.Temperature = 1.9 }, "temperature"},
		{"temperature below steady range", func(c *Config) { c.Upstream.Temperature = 0 }, "temperature"},
		{"negative timeout", func(c *Config) { c.Upstream.Timeout = -5 }, "upstream.timeout"},
		{"zero excerpt", func(c *Config) { c.Upstream.MaxExcerpt = 0 }, "max_excerpt"},
		{"excerpt over limit", func(c *Config) { c.Upstream.MaxExcerpt = 100000 }, "max_excerpt"},
		{"prefix trailing slash", func(c *Config) { c.Routing.ProxyPrefix = "/api/" }, "proxy_prefix"},
		{"route without slash", func(c *Config) { c.Routing.ReplyRoute = "reply" }, "routing"},
		{"alias duplicates route", func(c *Config) { c.Routing.ReplyAliases = []string{"/reply"} }, "declared twice"},
		{"empty cors origin", func(c *Config) { c.CORS.AllowOrigin = "" }, "allow_origin"},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, "tracing.exporter"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_MetricsPortIgnoredWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Enabled = false
	cfg.Server.MetricsPort = cfg.Server.Port

	if err := validate(cfg); err != nil {
		t.Fatalf("metrics port should not be checked when metrics are disabled: %v", err)
	}
}

func TestValidate_EmptyProxyPrefixAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Routing.ProxyPrefix = ""

	if err := validate(cfg); err != nil {
		t.Fatalf("empty proxy prefix should be valid: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "bad"
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if strings.Count(err.Error(), "\n  - ") < 3 {
		t.Errorf("expected at least 3 errors, got: %v", err)
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("isValidEnum should be case-insensitive")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("isValidEnum accepted an unknown value")
	}
}

func TestValidate_UpstreamBoundsInclusive(t *testing.T) {
	for _, temp := range []float64{MinTemperature, 0.35, MaxTemperature} {
		cfg := validConfig()
		cfg.Upstream.Temperature = temp
		cfg.Upstream.MaxExcerpt = MaxExcerptLimit
		if err := validate(cfg); err != nil {
			t.Errorf("temperature %.2f with excerpt %d: %v", temp, MaxExcerptLimit, err)
		}
	}
}

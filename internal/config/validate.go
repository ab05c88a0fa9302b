package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Metrics.Enabled {
		if cfg.Server.MetricsPort < 1 || cfg.Server.MetricsPort > 65535 {
			errs = append(errs, fmt.Sprintf("server.metrics_port must be between 1 and 65535, got %d", cfg.Server.MetricsPort))
		}
		if cfg.Server.Port == cfg.Server.MetricsPort {
			errs = append(errs, fmt.Sprintf("server.port and server.metrics_port must differ, both are %d", cfg.Server.Port))
		}
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Upstream validation
	if u, err := url.Parse(cfg.Upstream.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("upstream.api_base must be an absolute URL, got %q", cfg.Upstream.APIBase))
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" {
		errs = append(errs, "upstream.model must not be empty")
	}
	if !hasAnyPrefix(cfg.Upstream.KeyRef, "env:", "keyring://", "file://") {
		errs = append(errs, fmt.Sprintf("upstream.key_ref must start with env:, keyring:// or file://, got %q", cfg.Upstream.KeyRef))
	}
	if cfg.Upstream.Temperature < MinTemperature || cfg.Upstream.Temperature > MaxTemperature {
		errs = append(errs, fmt.Sprintf("upstream.temperature must be between %.1f and %.1f, got %.2f",
			MinTemperature, MaxTemperature, cfg.Upstream.Temperature))
	}
	if cfg.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("upstream.timeout must be non-negative, got %d", cfg.Upstream.Timeout))
	}
	if cfg.Upstream.MaxExcerpt < 1 || cfg.Upstream.MaxExcerpt > MaxExcerptLimit {
		errs = append(errs, fmt.Sprintf("upstream.max_excerpt must be between 1 and %d, got %d", MaxExcerptLimit, cfg.Upstream.MaxExcerpt))
	}
	if cfg.Upstream.MaxResponseSize < 0 {
		errs = append(errs, fmt.Sprintf("upstream.max_response_size must be non-negative, got %d", cfg.Upstream.MaxResponseSize))
	}

	// Routing validation
	if p := cfg.Routing.ProxyPrefix; p != "" && (!strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/")) {
		errs = append(errs, fmt.Sprintf("routing.proxy_prefix must start with / and not end with /, got %q", p))
	}
	routes := append([]string{cfg.Routing.ReplyRoute, cfg.Routing.HealthRoute}, cfg.Routing.ReplyAliases...)
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r, "/") || r == "/" {
			errs = append(errs, fmt.Sprintf("routing: route %q must start with / and name a path", r))
			continue
		}
		if seen[r] {
			errs = append(errs, fmt.Sprintf("routing: route %q is declared twice", r))
		}
		seen[r] = true
	}

	// CORS validation
	if cfg.CORS.AllowOrigin == "" {
		errs = append(errs, "cors.allow_origin must not be empty")
	}
	if cfg.CORS.MaxAge < 0 {
		errs = append(errs, fmt.Sprintf("cors.max_age must be non-negative, got %d", cfg.CORS.MaxAge))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

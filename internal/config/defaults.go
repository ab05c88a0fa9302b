package config

// DefaultBindAddress is the default bind address. The gateway normally sits
// behind a hosting rewrite layer, so it listens on all interfaces.
const DefaultBindAddress = "0.0.0.0"

// DefaultPort is the default port for the gateway server.
const DefaultPort = 8787

// DefaultMetricsPort is the default port for the metrics server.
const DefaultMetricsPort = 8788

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.anchor"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "anchor.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// It must outlast the upstream timeout.
const DefaultWriteTimeout = 120

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum inbound body size in bytes (1 MB).
const DefaultMaxBodySize = 1 << 20

// DefaultAPIBase is the default upstream chat-completion API base URL.
const DefaultAPIBase = "https://api.openai.com/v1"

// DefaultModel is the default upstream model identifier.
const DefaultModel = "gpt-4o-mini"

// DefaultKeyRef is the default credential reference.
const DefaultKeyRef = "env:OPENAI_API_KEY"

// DefaultTemperature keeps replies consistent rather than creative.
const DefaultTemperature = 0.3

// MinTemperature and MaxTemperature bound upstream.temperature. Replies stay
// in the low, steady range whatever the config says.
const (
	MinTemperature = 0.3
	MaxTemperature = 0.4
)

// DefaultUpstreamTimeout is the default upstream call timeout in seconds.
const DefaultUpstreamTimeout = 60

// MaxExcerptLimit is the most characters of an upstream error body that may
// ever be echoed back to the caller.
const MaxExcerptLimit = 500

// DefaultMaxExcerpt is the default upstream error excerpt length.
const DefaultMaxExcerpt = MaxExcerptLimit

// DefaultMaxResponseSize is the default maximum upstream response size in bytes (4 MB).
const DefaultMaxResponseSize int64 = 4 << 20

// DefaultAssistantName is the persona used when the request names none.
const DefaultAssistantName = "Yui"

// DefaultStyle is the explanation style used when the request names none.
const DefaultStyle = "single small next action"

// DefaultProxyPrefix is the path segment the hosting rewrite layer may add.
const DefaultProxyPrefix = "/api"

// DefaultReplyRoute is the canonical reply route.
const DefaultReplyRoute = "/reply"

// DefaultHealthRoute is the liveness route.
const DefaultHealthRoute = "/health"

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "anchor"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultReplyAliases are the legacy reply route names still accepted.
var DefaultReplyAliases = []string{"/yui"}

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			MetricsPort:  DefaultMetricsPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			TLSEnabled:   false,
			CertFile:     "",
			KeyFile:      "",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Upstream: UpstreamConfig{
			APIBase:         DefaultAPIBase,
			Model:           DefaultModel,
			KeyRef:          DefaultKeyRef,
			Temperature:     DefaultTemperature,
			Timeout:         DefaultUpstreamTimeout,
			MaxExcerpt:      DefaultMaxExcerpt,
			MaxResponseSize: DefaultMaxResponseSize,
		},
		Assistant: AssistantConfig{
			DefaultName:  DefaultAssistantName,
			DefaultStyle: DefaultStyle,
		},
		Routing: RoutingConfig{
			ProxyPrefix:  DefaultProxyPrefix,
			ReplyRoute:   DefaultReplyRoute,
			ReplyAliases: append([]string(nil), DefaultReplyAliases...),
			HealthRoute:  DefaultHealthRoute,
		},
		CORS: CORSConfig{
			AllowOrigin:  "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Content-Type,Authorization",
			MaxAge:       3600,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

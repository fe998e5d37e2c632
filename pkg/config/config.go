// Package config builds the immutable server configuration. Build applies
// functional overrides to the defaults and validates the result, reporting
// the first invalid field in a fixed order. Load feeds Build from a config
// file and TRANSCRIPT_MCP_* environment variables.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
)

const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 3000
	DefaultMaxClients        = 10
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultInactivityTimeout = 60 * time.Second
	DefaultRequestTimeout    = 60 * time.Second
	DefaultSweepInterval     = time.Minute
	DefaultMaxSessionAge     = 24 * time.Hour
	DefaultShutdownTimeout   = 5 * time.Second
)

// CORSPolicy is either disabled (empty), the wildcard "*", or one explicit
// origin.
type CORSPolicy string

const (
	CORSDisabled CORSPolicy = ""
	CORSWildcard CORSPolicy = "*"
)

// ParseCORS normalizes a configuration value. Boolean spellings map to
// disabled or wildcard; anything else is an explicit origin.
func ParseCORS(s string) CORSPolicy {
	switch v := strings.TrimSpace(s); strings.ToLower(v) {
	case "", "false", "off", "disabled", "none":
		return CORSDisabled
	case "true", "on", "*":
		return CORSWildcard
	default:
		return CORSPolicy(v)
	}
}

func (p CORSPolicy) Enabled() bool {
	return p != CORSDisabled
}

// Valid reports whether p is disabled, the wildcard, or an absolute http(s)
// origin.
func (p CORSPolicy) Valid() bool {
	if p == CORSDisabled || p == CORSWildcard {
		return true
	}
	u, err := url.Parse(string(p))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && (u.Path == "" || u.Path == "/")
}

// Config is the server configuration. Fields are validated in declaration
// order; the first failing field is the one reported.
type Config struct {
	MaxClients        int           `mapstructure:"max_clients" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" validate:"gt=0,gtfield=HeartbeatInterval"`
	// RequestTimeout bounds the dispatch of one JSON-RPC message.
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	Port              int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	Host              string        `mapstructure:"host" validate:"notblank"`
	CORS              CORSPolicy    `mapstructure:"cors" validate:"cors_policy"`

	// nil means absent; a present list must be non-empty.
	AllowedOrigins         []string `mapstructure:"allowed_origins" validate:"omitnil,min=1,dive,notblank"`
	AllowedHosts           []string `mapstructure:"allowed_hosts" validate:"omitnil,min=1,dive,notblank"`
	DNSRebindingProtection bool     `mapstructure:"dns_rebinding_protection"`

	ProtocolVersion string `mapstructure:"protocol_version" validate:"notblank"`

	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	MaxSessionAge   time.Duration `mapstructure:"max_session_age" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`

	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TracingConfig selects the span exporter. The noop exporter needs no
// endpoint.
type TracingConfig struct {
	Exporter   string  `mapstructure:"exporter" validate:"oneof=noop otlp-grpc otlp-http"`
	Endpoint   string  `mapstructure:"endpoint" validate:"required_unless=Exporter noop"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		MaxClients:        DefaultMaxClients,
		HeartbeatInterval: DefaultHeartbeatInterval,
		InactivityTimeout: DefaultInactivityTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		Port:              DefaultPort,
		Host:              DefaultHost,
		CORS:              CORSDisabled,
		ProtocolVersion:   protocol.ProtocolRevision,
		SweepInterval:     DefaultSweepInterval,
		MaxSessionAge:     DefaultMaxSessionAge,
		ShutdownTimeout:   DefaultShutdownTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:   "noop",
			SampleRate: 1,
		},
	}
}

// Option overrides one setting.
type Option func(*Config)

// Build applies opts to the defaults and validates the result. It returns a
// *ConfigError naming the first invalid field.
func Build(opts ...Option) (Config, error) {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.AllowedOrigins = cloneList(cfg.AllowedOrigins)
	cfg.AllowedHosts = cloneList(cfg.AllowedHosts)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// From replaces every setting with c. Later options still apply on top.
func From(c Config) Option {
	return func(cfg *Config) { *cfg = c }
}

func WithHost(host string) Option {
	return func(c *Config) { c.Host = host }
}

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithMaxClients(n int) Option {
	return func(c *Config) { c.MaxClients = n }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatInterval = d }
}

func WithInactivityTimeout(d time.Duration) Option {
	return func(c *Config) { c.InactivityTimeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

func WithCORS(p CORSPolicy) Option {
	return func(c *Config) { c.CORS = p }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) {
		if origins == nil {
			origins = []string{}
		}
		c.AllowedOrigins = origins
	}
}

func WithAllowedHosts(hosts ...string) Option {
	return func(c *Config) {
		if hosts == nil {
			hosts = []string{}
		}
		c.AllowedHosts = hosts
	}
}

func WithDNSRebindingProtection(enabled bool) Option {
	return func(c *Config) { c.DNSRebindingProtection = enabled }
}

func WithProtocolVersion(v string) Option {
	return func(c *Config) { c.ProtocolVersion = v }
}

func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.SweepInterval = d }
}

func WithMaxSessionAge(d time.Duration) Option {
	return func(c *Config) { c.MaxSessionAge = d }
}

func WithMetricsAddr(addr string) Option {
	return func(c *Config) { c.MetricsAddr = addr }
}

func WithLog(level, format string) Option {
	return func(c *Config) {
		c.Log.Level = level
		c.Log.Format = format
	}
}

func WithTracing(t TracingConfig) Option {
	return func(c *Config) { c.Tracing = t }
}

func cloneList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TRANSCRIPT_MCP_MAX_CLIENTS or TRANSCRIPT_MCP_LOG_LEVEL.
const EnvPrefix = "TRANSCRIPT_MCP"

const configName = "transcript-mcp"

var durationKeys = []string{
	"heartbeat_interval",
	"inactivity_timeout",
	"request_timeout",
	"sweep_interval",
	"max_session_age",
	"shutdown_timeout",
}

// NewViper returns a viper instance with defaults, environment binding and
// the config file location set. An empty configFile searches the working
// directory, $HOME/.transcript-mcp and /etc/transcript-mcp.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"allowed_origins", "allowed_hosts", "tracing.endpoint"} {
		_ = v.BindEnv(key)
	}
	return v
}

// SetDefaults registers every key with its default so environment variables
// and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_clients", d.MaxClients)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("inactivity_timeout", d.InactivityTimeout)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("port", d.Port)
	v.SetDefault("host", d.Host)
	v.SetDefault("cors", string(d.CORS))
	v.SetDefault("dns_rebinding_protection", d.DNSRebindingProtection)
	v.SetDefault("protocol_version", d.ProtocolVersion)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("max_session_age", d.MaxSessionAge)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// Load reads the config file (a missing file found by search is not an
// error), applies environment overrides and validates through Build.
func Load(v *viper.Viper, overrides ...Option) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Bare numbers are milliseconds.
	for _, key := range durationKeys {
		s := v.GetString(key)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			v.Set(key, s+"ms")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.CORS = ParseCORS(v.GetString("cors"))
	if !v.IsSet("allowed_origins") {
		cfg.AllowedOrigins = nil
	}
	if !v.IsSet("allowed_hosts") {
		cfg.AllowedHosts = nil
	}

	return Build(append([]Option{From(cfg)}, overrides...)...)
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".transcript-mcp"),
		"/etc/transcript-mcp",
	})
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml", ".toml", ".json"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

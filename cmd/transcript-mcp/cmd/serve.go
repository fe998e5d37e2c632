package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/transcript-mcp/pkg/app"
	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server on the configured host and port.

Flags override the config file and environment.

Examples:
  # Start with defaults
  transcript-mcp serve

  # Allow 50 clients and any browser origin
  transcript-mcp serve --max-clients 50 --cors '*'

  # Expose Prometheus metrics
  transcript-mcp serve --metrics-addr 127.0.0.1:9090`,
	RunE: runServe,
}

// serveFlagKeys maps each serve flag to its config key.
var serveFlagKeys = map[string]string{
	"host":                     "host",
	"port":                     "port",
	"max-clients":              "max_clients",
	"heartbeat-interval":       "heartbeat_interval",
	"inactivity-timeout":       "inactivity_timeout",
	"request-timeout":          "request_timeout",
	"cors":                     "cors",
	"dns-rebinding-protection": "dns_rebinding_protection",
	"metrics-addr":             "metrics_addr",
	"log-level":                "log.level",
	"log-format":               "log.format",
}

func init() {
	d := config.Default()
	f := serveCmd.Flags()
	f.String("host", d.Host, "interface to listen on")
	f.Int("port", d.Port, "port to listen on (0 picks a free port)")
	f.Int("max-clients", d.MaxClients, "maximum concurrent sessions of either kind")
	f.Duration("heartbeat-interval", d.HeartbeatInterval, "interval between stream heartbeats")
	f.Duration("inactivity-timeout", d.InactivityTimeout, "idle time after which a used stream session is evicted")
	f.Duration("request-timeout", d.RequestTimeout, "maximum time to answer one JSON-RPC message")
	f.String("cors", string(d.CORS), `CORS origin: "" (off), "*" or one origin`)
	f.Bool("dns-rebinding-protection", d.DNSRebindingProtection, "reject requests from hosts or origins that are not allowed")
	f.String("metrics-addr", d.MetricsAddr, "address for /metrics and /healthz (empty disables)")
	f.String("log-level", d.Log.Level, "log level: debug, info, warn or error")
	f.String("log-format", d.Log.Format, "log format: text or json")
	rootCmd.AddCommand(serveCmd)
}

// bindServeFlags binds the serve flags that were set explicitly, so unset
// flags never shadow the config file or environment.
func bindServeFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range serveFlagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func loadServeConfig(cmd *cobra.Command) (config.Config, *viper.Viper, error) {
	v := config.NewViper(cfgFile)
	if err := bindServeFlags(v, cmd); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, v, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("Loaded config", logging.String("file", used))
	}

	a, err := app.New(cfg, app.WithLogger(logger), app.WithVersion(Version))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("transcript-mcp stopped")
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/peerdoc"
	"pkt.systems/pslog"
)

// NewServeCommand builds the signaling server command.
func NewServeCommand(loader *peerdoc.Loader) *cobra.Command {
	v := loader.Viper()
	var bindErr error

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the peerdoc signaling server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bindErr != nil {
				return bindErr
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger := pslog.Ctx(cmd.Context()).With("component", "serve")
			if used := loader.ConfigFileUsed(); used != "" {
				logger.Info("loaded config", "path", used)
			}
			return peerdoc.Serve(cmd.Context(), peerdoc.ServeOptions{
				Config: cfg,
				Logger: logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.String("listen", peerdoc.DefaultListenAddr, "listen address")
	flags.String("data-dir", peerdoc.DefaultConfigDir(), "path to data directory (file store)")
	flags.String("base", peerdoc.DefaultBasePath, "base path prefix for all HTTP routes")
	flags.StringSlice("allowed-origin", nil, "host pattern allowed for cross-origin websocket upgrades (repeatable)")
	flags.String("tls-mode", peerdoc.DefaultTLSMode, "tls mode: off, bundle, or acme")
	flags.StringArray("tls-bundle", nil, "path to PEM bundle file (repeatable)")
	flags.String("tls-cache-dir", peerdoc.DefaultTLSCacheDir(), "tls cache directory for acme")
	flags.String("tls-hostname", "", "hostname for acme")
	flags.Bool("require-token", false, "reject joins without a capability token")
	flags.Duration("heartbeat-timeout", peerdoc.DefaultConfig().Signaling.HeartbeatTimeout, "evict peers silent for longer than this")
	flags.Duration("sweep-interval", peerdoc.DefaultConfig().Signaling.SweepInterval, "how often stale peers are swept")
	flags.String("store-driver", peerdoc.DefaultStoreDriver, "metadata store: file or postgres")
	flags.String("store-dsn", "", "postgres connection string")
	flags.StringSlice("events-brokers", nil, "kafka brokers for session events (repeatable)")
	flags.String("events-topic", peerdoc.DefaultEventsTopic, "kafka topic for session events")

	bind := func(key, name string) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			bindErr = err
		}
	}

	bind("server.listen", "listen")
	bind("server.data_dir", "data-dir")
	bind("server.base", "base")
	bind("server.allowed_origins", "allowed-origin")
	bind("server.tls.mode", "tls-mode")
	bind("server.tls.bundle", "tls-bundle")
	bind("server.tls.cache_dir", "tls-cache-dir")
	bind("server.tls.hostname", "tls-hostname")
	bind("signaling.require_token", "require-token")
	bind("signaling.heartbeat_timeout", "heartbeat-timeout")
	bind("signaling.sweep_interval", "sweep-interval")
	bind("store.driver", "store-driver")
	bind("store.dsn", "store-dsn")
	bind("events.brokers", "events-brokers")
	bind("events.topic", "events-topic")

	return cmd
}

package peerdoc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/peerdoc/internal/collabstore"
	"pkt.systems/peerdoc/internal/events"
	"pkt.systems/peerdoc/internal/gateway"
	"pkt.systems/peerdoc/internal/metrics"
	"pkt.systems/peerdoc/internal/server"
	"pkt.systems/peerdoc/internal/signaling"
	"pkt.systems/peerdoc/internal/tlsmgr"
	"pkt.systems/peerdoc/internal/token"
	"pkt.systems/pslog"
)

// ServeOptions configures the signaling server run.
type ServeOptions struct {
	Config Config
	Logger pslog.Logger
	// Listener overrides Config.Server.Listen when set.
	Listener net.Listener
}

// Serve runs the peerdoc signaling server until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	if strings.TrimSpace(cfg.Tokens.Secret) == "" {
		return fmt.Errorf("tokens.secret is required (run peerdoc bootstrap)")
	}

	tlsCfg, err := tlsmgr.BuildServerTLSConfig(
		tlsmgr.Config{
			Mode:        tlsmgr.Mode(cfg.Server.TLS.Mode),
			BundleFiles: cfg.Server.TLS.Bundle,
			Hostname:    cfg.Server.TLS.Hostname,
			CacheDir:    cfg.Server.TLS.CacheDir,
		},
		logger.With("component", "tls"),
	)
	if err != nil {
		return err
	}

	tokens, err := token.NewService(token.Options{
		Secret:       []byte(cfg.Tokens.Secret),
		Issuer:       cfg.Tokens.Issuer,
		LinkBaseURL:  cfg.Tokens.LinkBaseURL,
		PermanentTTL: cfg.Tokens.PermanentTTL,
		OneTimeTTL:   cfg.Tokens.InvitationTTL,
	})
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	store, err := collabstore.Open(ctx, collabstore.Config{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		DataDir: cfg.Server.DataDir,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "err", err)
		}
	}()

	m := metrics.New()
	publisher := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, events.Options{
		Logger:  logger.With("component", "events"),
		Metrics: m,
	})
	defer func() { _ = publisher.Close() }()
	var observer signaling.Observer
	if publisher != nil {
		observer = publisher
	}

	registry := signaling.NewRegistry(signaling.RegistryOptions{
		Logger:   logger.With("component", "registry"),
		Metrics:  m,
		Observer: observer,
	})
	router := signaling.NewRouter(signaling.RouterOptions{
		Registry:     registry,
		Tokens:       tokens,
		Store:        store,
		RequireToken: cfg.Signaling.RequireToken,
		RateLimit:    cfg.Signaling.RateLimit,
		RateBurst:    cfg.Signaling.RateBurst,
		Logger:       logger.With("component", "router"),
		Metrics:      m,
	})
	gw := gateway.NewServer(gateway.Options{
		Router:          router,
		Tokens:          tokens,
		Store:           store,
		Events:          publisher,
		Metrics:         m,
		Logger:          logger.With("component", "gateway"),
		AdminKeyHash:    cfg.Server.AdminKeyHash,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Signaling.MaxMessageBytes,
		SendQueue:       cfg.Signaling.SendQueue,
		PingInterval:    cfg.Signaling.PingInterval,
	})

	srv, err := server.NewServer(server.Config{
		ListenAddr:        cfg.Server.Listen,
		BasePath:          cfg.Server.BasePath,
		TLSConfig:         tlsCfg,
		Logger:            logger.With("component", "http"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}, gw.Handler())
	if err != nil {
		return err
	}
	ln := opts.Listener
	if ln == nil {
		ln, err = srv.Listen()
		if err != nil {
			return err
		}
	}

	sweeper := signaling.NewSweeper(registry, cfg.Signaling.SweepInterval, cfg.Signaling.HeartbeatTimeout, logger.With("component", "sweeper"))

	logger.Info("starting server",
		"listen", ln.Addr().String(),
		"base", cfg.Server.BasePath,
		"tls_mode", cfg.Server.TLS.Mode,
		"store", cfg.Store.Driver,
		"events", publisher != nil,
		"require_token", cfg.Signaling.RequireToken,
		"link_management", cfg.Server.AdminKeyHash != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, ln) })
	g.Go(func() error { return sweeper.Run(gctx) })
	return g.Wait()
}

// Package tlsmgr builds the server TLS configuration from PEM bundles or ACME.
package tlsmgr

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
	"pkt.systems/pslog"
)

// Mode selects how TLS is configured.
type Mode string

const (
	// ModeOff serves plain HTTP, typically behind a TLS-terminating proxy.
	ModeOff Mode = "off"
	// ModeBundle loads TLS assets from PEM bundle files.
	ModeBundle Mode = "bundle"
	// ModeACME uses ACME (TLS-ALPN-01) to obtain certificates.
	ModeACME Mode = "acme"
)

// expiryWarning is how close to NotAfter a bundle certificate is logged as expiring.
const expiryWarning = 14 * 24 * time.Hour

// Config configures TLS management behavior.
type Config struct {
	Mode        Mode
	BundleFiles []string
	Hostname    string
	CacheDir    string
}

// ResolveMode chooses a TLS mode based on config inputs.
func ResolveMode(cfg Config) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode)))) {
	case "":
		if len(cfg.BundleFiles) > 0 {
			return ModeBundle, nil
		}
		if cfg.Hostname != "" && cfg.CacheDir != "" {
			return ModeACME, nil
		}
		return ModeOff, nil
	case ModeOff, "none", "disabled":
		return ModeOff, nil
	case ModeBundle:
		return ModeBundle, nil
	case ModeACME:
		return ModeACME, nil
	default:
		return "", fmt.Errorf("unsupported tls mode: %s", cfg.Mode)
	}
}

// BuildServerTLSConfig builds a TLS config based on the provided settings.
// It returns nil for ModeOff.
func BuildServerTLSConfig(cfg Config, logger pslog.Logger) (*tls.Config, error) {
	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}

	switch mode {
	case ModeOff:
		return nil, nil
	case ModeBundle:
		if len(cfg.BundleFiles) == 0 {
			return nil, fmt.Errorf("tls bundle mode requires at least one bundle file")
		}
		bundle, err := LoadBundle(cfg.BundleFiles)
		if err != nil {
			return nil, err
		}
		logger.Info("tls bundle loaded", "subject", bundle.Subject, "not_after", bundle.NotAfter.Format(time.RFC3339))
		if remaining := time.Until(bundle.NotAfter); remaining < expiryWarning {
			logger.Warn("tls certificate expires soon", "not_after", bundle.NotAfter.Format(time.RFC3339))
		}
		return &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{bundle.Certificate},
		}, nil
	case ModeACME:
		if cfg.Hostname == "" {
			return nil, fmt.Errorf("acme mode requires a tls hostname")
		}
		if cfg.CacheDir == "" {
			return nil, fmt.Errorf("acme mode requires tls cache dir")
		}
		if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
			return nil, err
		}
		manager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(cfg.CacheDir),
			HostPolicy: autocert.HostWhitelist(cfg.Hostname),
		}
		logger.Info("acme tls enabled", "hostname", cfg.Hostname, "cache_dir", cfg.CacheDir)
		return &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: manager.GetCertificate,
			NextProtos:     []string{acme.ALPNProto, "h2", "http/1.1"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported tls mode: %s", mode)
	}
}

package peerdoc

import "pkt.systems/peerdoc/internal/config"

// Config mirrors the peerdoc configuration.
type Config = config.Config

// ServerConfig configures the signaling server.
type ServerConfig = config.ServerConfig

// TLSConfig configures TLS for the signaling server.
type TLSConfig = config.TLSConfig

// SignalingConfig tunes the signaling router and transport.
type SignalingConfig = config.SignalingConfig

// TokensConfig configures capability tokens.
type TokensConfig = config.TokensConfig

// StoreConfig selects the collaboration metadata store.
type StoreConfig = config.StoreConfig

// EventsConfig configures session event publishing.
type EventsConfig = config.EventsConfig

// ClientConfig configures CLI client defaults.
type ClientConfig = config.ClientConfig

// Loader wraps configuration loading via Viper.
type Loader = config.Loader

const (
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = config.DefaultConfigDirName
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = config.DefaultConfigFileName
	// DefaultListenAddr is the default server listen address.
	DefaultListenAddr = config.DefaultListenAddr
	// DefaultBasePath is the default HTTP base path.
	DefaultBasePath = config.DefaultBasePath
	// DefaultTLSMode is the default TLS mode.
	DefaultTLSMode = config.DefaultTLSMode
	// DefaultClientEndpoint is the default client endpoint.
	DefaultClientEndpoint = config.DefaultClientEndpoint
	// DefaultStoreDriver is the default metadata store driver.
	DefaultStoreDriver = config.DefaultStoreDriver
	// DefaultEventsTopic is the default Kafka topic for session events.
	DefaultEventsTopic = config.DefaultEventsTopic
)

// NewLoader returns a config loader with every default registered.
func NewLoader() *config.Loader {
	loader := config.NewLoader()
	loader.SetDefaults(config.DefaultConfig())
	return loader
}

// DefaultConfig returns default peerdoc configuration.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// DefaultConfigDir returns the default config directory.
func DefaultConfigDir() string {
	return config.DefaultConfigDir()
}

// DefaultConfigPath returns the default config path.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}

// DefaultTLSCacheDir returns the default ACME cache directory.
func DefaultTLSCacheDir() string {
	return config.DefaultTLSCacheDir()
}

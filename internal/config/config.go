package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for peerdoc.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Signaling SignalingConfig `mapstructure:"signaling" yaml:"signaling"`
	Tokens    TokensConfig    `mapstructure:"tokens" yaml:"tokens"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
}

// ServerConfig configures the signaling server.
type ServerConfig struct {
	Listen         string    `mapstructure:"listen" yaml:"listen"`
	DataDir        string    `mapstructure:"data_dir" yaml:"data_dir"`
	BasePath       string    `mapstructure:"base" yaml:"base"`
	AdminKeyHash   string    `mapstructure:"admin_key_hash" yaml:"admin_key_hash"`
	AllowedOrigins []string  `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	TLS            TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig configures TLS behavior for the server.
type TLSConfig struct {
	Mode     string   `mapstructure:"mode" yaml:"mode"`
	Bundle   []string `mapstructure:"bundle" yaml:"bundle"`
	Hostname string   `mapstructure:"hostname" yaml:"hostname"`
	CacheDir string   `mapstructure:"cache_dir" yaml:"cache_dir"`
}

// SignalingConfig tunes the signaling router, registry and transport.
type SignalingConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	RequireToken     bool          `mapstructure:"require_token" yaml:"require_token"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendQueue        int           `mapstructure:"send_queue" yaml:"send_queue"`
	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// TokensConfig configures capability token issuing and validation.
type TokensConfig struct {
	Secret        string        `mapstructure:"secret" yaml:"secret"`
	Issuer        string        `mapstructure:"issuer" yaml:"issuer"`
	LinkBaseURL   string        `mapstructure:"link_base_url" yaml:"link_base_url"`
	PermanentTTL  time.Duration `mapstructure:"permanent_ttl" yaml:"permanent_ttl"`
	InvitationTTL time.Duration `mapstructure:"invitation_ttl" yaml:"invitation_ttl"`
}

// StoreConfig selects the collaboration metadata store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// EventsConfig configures the Kafka session event publisher.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// ClientConfig configures CLI client defaults.
type ClientConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	AdminKey string `mapstructure:"admin_key" yaml:"admin_key"`
	CAFile   string `mapstructure:"ca_file" yaml:"ca_file"`
}

// Loader wraps Viper configuration loading for peerdoc.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader initializes a Loader with standard defaults.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/peerdoc")
	v.AddConfigPath("$HOME/" + DefaultConfigDirName)

	return &Loader{v: v}
}

// Viper exposes the underlying Viper instance for flag binding and defaults.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = strings.TrimSpace(path)
}

// SetDefaults registers every key of cfg as a Viper default so that
// environment variables resolve for keys absent from the config file.
func (l *Loader) SetDefaults(cfg Config) {
	for key, value := range flatten(cfg) {
		l.v.SetDefault(key, value)
	}
}

// ReadInConfig reads configuration from file if available.
func (l *Loader) ReadInConfig() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration and unmarshals it into a Config struct.
func (l *Loader) Load() (Config, error) {
	if err := l.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func flatten(cfg Config) map[string]any {
	return map[string]any{
		"server.listen":               cfg.Server.Listen,
		"server.data_dir":             cfg.Server.DataDir,
		"server.base":                 cfg.Server.BasePath,
		"server.admin_key_hash":       cfg.Server.AdminKeyHash,
		"server.allowed_origins":      cfg.Server.AllowedOrigins,
		"server.tls.mode":             cfg.Server.TLS.Mode,
		"server.tls.bundle":           cfg.Server.TLS.Bundle,
		"server.tls.hostname":         cfg.Server.TLS.Hostname,
		"server.tls.cache_dir":        cfg.Server.TLS.CacheDir,
		"signaling.heartbeat_timeout": cfg.Signaling.HeartbeatTimeout,
		"signaling.sweep_interval":    cfg.Signaling.SweepInterval,
		"signaling.require_token":     cfg.Signaling.RequireToken,
		"signaling.max_message_bytes": cfg.Signaling.MaxMessageBytes,
		"signaling.send_queue":        cfg.Signaling.SendQueue,
		"signaling.rate_limit":        cfg.Signaling.RateLimit,
		"signaling.rate_burst":        cfg.Signaling.RateBurst,
		"signaling.ping_interval":     cfg.Signaling.PingInterval,
		"tokens.secret":               cfg.Tokens.Secret,
		"tokens.issuer":               cfg.Tokens.Issuer,
		"tokens.link_base_url":        cfg.Tokens.LinkBaseURL,
		"tokens.permanent_ttl":        cfg.Tokens.PermanentTTL,
		"tokens.invitation_ttl":       cfg.Tokens.InvitationTTL,
		"store.driver":                cfg.Store.Driver,
		"store.dsn":                   cfg.Store.DSN,
		"events.brokers":              cfg.Events.Brokers,
		"events.topic":                cfg.Events.Topic,
		"client.endpoint":             cfg.Client.Endpoint,
		"client.admin_key":            cfg.Client.AdminKey,
		"client.ca_file":              cfg.Client.CAFile,
	}
}

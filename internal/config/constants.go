package config

import "time"

const (
	// EnvPrefix is the environment variable prefix, e.g. PEERDOC_SERVER_LISTEN.
	EnvPrefix = "PEERDOC"
	// DefaultConfigDirName is the directory name under the home directory.
	DefaultConfigDirName = ".peerdoc"
	// DefaultConfigFileName is the default config file name.
	DefaultConfigFileName = "config.yaml"
	// DefaultTLSDirName is the TLS directory name under the config directory.
	DefaultTLSDirName = "tls"
	// DefaultTLSCacheDirName is the ACME cache directory name under the TLS directory.
	DefaultTLSCacheDirName = "cache"

	// DefaultListenAddr is the default server listen address.
	DefaultListenAddr = "127.0.0.1:7430"
	// DefaultBasePath is the default HTTP base path.
	DefaultBasePath = "/"
	// DefaultTLSMode is the default TLS mode.
	DefaultTLSMode = "off"
	// DefaultClientEndpoint is the default client endpoint.
	DefaultClientEndpoint = "http://127.0.0.1:7430"

	// DefaultHeartbeatTimeout is how long a peer may stay silent before eviction.
	DefaultHeartbeatTimeout = 60 * time.Second
	// DefaultSweepInterval is how often stale peers are swept.
	DefaultSweepInterval = 30 * time.Second
	// DefaultMaxMessageBytes caps a single inbound frame.
	DefaultMaxMessageBytes = 1 << 20
	// DefaultSendQueue is the per-connection outbound queue length.
	DefaultSendQueue = 64
	// DefaultRateLimit is the sustained inbound messages per second per connection.
	DefaultRateLimit = 50
	// DefaultRateBurst is the inbound burst allowance per connection.
	DefaultRateBurst = 100
	// DefaultPingInterval is the websocket keepalive interval.
	DefaultPingInterval = 30 * time.Second

	// DefaultIssuer is the token issuer claim.
	DefaultIssuer = "peerdoc"
	// DefaultLinkBaseURL prefixes shareable join links.
	DefaultLinkBaseURL = "peerdoc://join"
	// DefaultPermanentTTL is the default lifetime of permanent tokens.
	DefaultPermanentTTL = 7 * 24 * time.Hour
	// DefaultInvitationTTL is the default lifetime of one-time invitations.
	DefaultInvitationTTL = 24 * time.Hour

	// DefaultStoreDriver is the default collaboration metadata store.
	DefaultStoreDriver = "file"
	// DefaultEventsTopic is the Kafka topic for session events.
	DefaultEventsTopic = "peerdoc.sessions"
)

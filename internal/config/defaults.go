package config

// DefaultConfig returns the default configuration values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:   DefaultListenAddr,
			DataDir:  DefaultConfigDir(),
			BasePath: DefaultBasePath,
			TLS: TLSConfig{
				Mode:     DefaultTLSMode,
				CacheDir: DefaultTLSCacheDir(),
			},
		},
		Signaling: SignalingConfig{
			HeartbeatTimeout: DefaultHeartbeatTimeout,
			SweepInterval:    DefaultSweepInterval,
			MaxMessageBytes:  DefaultMaxMessageBytes,
			SendQueue:        DefaultSendQueue,
			RateLimit:        DefaultRateLimit,
			RateBurst:        DefaultRateBurst,
			PingInterval:     DefaultPingInterval,
		},
		Tokens: TokensConfig{
			Issuer:        DefaultIssuer,
			LinkBaseURL:   DefaultLinkBaseURL,
			PermanentTTL:  DefaultPermanentTTL,
			InvitationTTL: DefaultInvitationTTL,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		Events: EventsConfig{
			Topic: DefaultEventsTopic,
		},
		Client: ClientConfig{
			Endpoint: DefaultClientEndpoint,
		},
	}
}

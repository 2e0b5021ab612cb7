package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/peerdoc"
)

// NewRootCommand builds the root CLI command.
func NewRootCommand(loader *peerdoc.Loader) *cobra.Command {
	var configFile string
	var bindErr error

	cmd := &cobra.Command{
		Use:           "peerdoc",
		Short:         "Signaling and session service for peer-to-peer document collaboration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
			return bindErr
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path")
	flags.StringP("endpoint", "e", peerdoc.DefaultClientEndpoint, "server endpoint (http/https base URL)")
	flags.String("admin-key", "", "admin key for link management (or PEERDOC_CLIENT_ADMIN_KEY)")
	flags.String("ca-file", "", "PEM CA bundle trusted in addition to system roots")

	v := loader.Viper()
	for key, name := range map[string]string{
		"client.endpoint":  "endpoint",
		"client.admin_key": "admin-key",
		"client.ca_file":   "ca-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil && bindErr == nil {
			bindErr = err
		}
	}

	cmd.AddCommand(NewServeCommand(loader))
	cmd.AddCommand(NewBootstrapCommand())
	cmd.AddCommand(NewLinkCommand(loader))
	cmd.AddCommand(NewStatusCommand(loader))

	return cmd
}

// clientOptions loads the configuration and returns the client settings.
func clientOptions(loader *peerdoc.Loader) (peerdoc.ClientOptions, error) {
	cfg, err := loader.Load()
	if err != nil {
		return peerdoc.ClientOptions{}, err
	}
	return peerdoc.ClientOptions{
		Endpoint: cfg.Client.Endpoint,
		AdminKey: cfg.Client.AdminKey,
		CAFile:   cfg.Client.CAFile,
	}, nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/peerdoc"
	"pkt.systems/pslog"
)

// NewBootstrapCommand builds the bootstrap command.
func NewBootstrapCommand() *cobra.Command {
	var path string
	var force bool
	var listen string
	var tlsHostname string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write a peerdoc config with a fresh token secret and admin key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := pslog.Ctx(cmd.Context()).With("component", "bootstrap")
			cfg := peerdoc.DefaultConfig()
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if tlsHostname != "" {
				cfg.Server.TLS.Mode = "acme"
				cfg.Server.TLS.Hostname = tlsHostname
				cfg.Client.Endpoint = "https://" + tlsHostname
			}
			res, err := peerdoc.Bootstrap(peerdoc.BootstrapOptions{
				Path:   path,
				Config: cfg,
				Force:  force,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "config: %s\n", res.Path)
			_, _ = fmt.Fprintf(w, "admin_key: %s\n", res.AdminKey)
			_, _ = fmt.Fprintln(w, "The admin key is shown once; only its hash is stored.")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&path, "path", "", "config file to write (default ~/.peerdoc/config.yaml)")
	flags.BoolVar(&force, "force", false, "overwrite an existing config")
	flags.StringVar(&listen, "listen", "", "listen address to record in the config")
	flags.StringVar(&tlsHostname, "tls-hostname", "", "enable acme tls for this hostname")

	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/peerdoc"
)

// NewLinkCommand builds the share link management command.
func NewLinkCommand(loader *peerdoc.Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage document share links",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newLinkCreateCommand(loader))
	cmd.AddCommand(newLinkRevokeCommand(loader))
	cmd.AddCommand(newLinkListCommand(loader))
	cmd.AddCommand(newLinkInspectCommand(loader))

	return cmd
}

func newLinkCreateCommand(loader *peerdoc.Loader) *cobra.Command {
	var permissions []string
	var kind string
	var ttl time.Duration
	var recipient string
	var showQR bool

	cmd := &cobra.Command{
		Use:   "create <document-id>",
		Short: "Issue a share link for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientOptions(loader)
			if err != nil {
				return err
			}
			issued, err := peerdoc.LinkCreate(cmd.Context(), client, peerdoc.LinkCreateOptions{
				DocumentID:  args[0],
				Permissions: permissions,
				Kind:        peerdoc.LinkKind(kind),
				TTL:         ttl,
				Recipient:   recipient,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), issued); err != nil {
				return err
			}
			if showQR {
				printQR(cmd.OutOrStdout(), issued.URL)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&permissions, "permission", "p", []string{"read"}, "granted permission: read, write (repeatable)")
	flags.StringVar(&kind, "kind", string(peerdoc.LinkPermanent), "link kind: permanent or one-time (invitation)")
	flags.DurationVar(&ttl, "ttl", 0, "link lifetime (default 7d permanent, 24h one-time)")
	flags.StringVar(&recipient, "recipient", "", "invitation recipient recorded with the link")
	flags.BoolVar(&showQR, "qr", false, "print the join link as a QR code")

	return cmd
}

func newLinkRevokeCommand(loader *peerdoc.Loader) *cobra.Command {
	var documentID string

	cmd := &cobra.Command{
		Use:   "revoke <link-id|token|link>",
		Short: "Revoke a share link",
		Long:  "Revoke a share link by link id (with --document), or by its token or join link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientOptions(loader)
			if err != nil {
				return err
			}
			opts := peerdoc.LinkRevokeOptions{DocumentID: documentID, LinkID: args[0]}
			if documentID == "" {
				opts = peerdoc.LinkRevokeOptions{Token: peerdoc.TokenFromLink(args[0])}
			}
			if err := peerdoc.LinkRevoke(cmd.Context(), client, opts); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "document id when revoking by link id")

	return cmd
}

func newLinkListCommand(loader *peerdoc.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "list <document-id>",
		Short: "List share links issued for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientOptions(loader)
			if err != nil {
				return err
			}
			links, err := peerdoc.LinkList(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), links)
		},
	}
}

func newLinkInspectCommand(loader *peerdoc.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token|link>",
		Short: "Validate a token without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientOptions(loader)
			if err != nil {
				return err
			}
			res, err := peerdoc.LinkInspect(cmd.Context(), client, peerdoc.TokenFromLink(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

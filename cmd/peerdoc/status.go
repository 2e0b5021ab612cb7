package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/peerdoc"
)

// NewStatusCommand builds the status command.
func NewStatusCommand(loader *peerdoc.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show server occupancy, or the peers of one document room",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientOptions(loader)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				room, err := peerdoc.RoomStatus(cmd.Context(), client, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), room)
			}
			status, err := peerdoc.Status(cmd.Context(), client)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

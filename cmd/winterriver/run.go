package main

import (
	"log"

	"github.com/spf13/cobra"
)

// NewRunCommand starts ingestion and the tick loop.
func NewRunCommand(root *RootOptions) *cobra.Command {
	var useVirtual bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest telemetry and tick until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(root.Config)
			if err != nil {
				return err
			}
			if useVirtual {
				s = s.Virtual()
			}
			log.Printf("[Main] Starting Winter River (%s transport, %s store)\n", s.Transport.Kind, s.Store.Driver)
			st, err := assemble(cmd.Context(), s)
			if err != nil {
				return err
			}
			st.run(cmd.Context())
			log.Println("[Main] Stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&useVirtual, "virtual", false, "run against the in-process store and virtual devices")
	return cmd
}

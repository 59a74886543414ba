package main

import (
	"github.com/spf13/cobra"
)

// RootOptions holds the global flags.
type RootOptions struct {
	Config string
}

// NewRootCommand creates the winterriver command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "winterriver",
		Short:        "Winter River site state engine",
		Long:         "Propagates electrical state through the site topology once per tick and commands the field devices.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "settings file (JSON)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewHMICommand(opts))
	return cmd
}

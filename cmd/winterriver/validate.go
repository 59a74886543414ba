package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ohowland/winterriver/internal/pkg/topology"
)

// NewValidateCommand sequences a topology file and prints the order.
func NewValidateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <topology-file>",
		Short: "Check a topology file and print its evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := topology.LoadFile(args[0])
			if err != nil {
				return err
			}
			plan, err := topology.Sequence(defs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes: %s\n", len(plan.Order), strings.Join(plan.Order, " -> "))
			return nil
		},
	}
}

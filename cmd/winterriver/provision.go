package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/database/sqldb"
	"github.com/ohowland/winterriver/internal/pkg/topology"
)

// ErrMemoryStore is returned when provisioning a store that only lives
// inside a run.
var ErrMemoryStore = errors.New("the memory store is provisioned by run; configure a postgres or mysql Store")

// provisioner is the part of a Topology Store provision writes to.
type provisioner interface {
	Provision(ctx context.Context, defs []asset.Def, genStartDelay int) error
}

// NewProvisionCommand upserts a topology file into the configured store.
func NewProvisionCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <topology-file>",
		Short: "Load node definitions into the store and seed their live state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(root.Config)
			if err != nil {
				return err
			}
			if s.Store.Driver == MemoryDriver {
				return ErrMemoryStore
			}
			store, err := sqldb.Open(s.Store)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := provision(cmd.Context(), store, args[0], s.Params.GenStartDelay)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %d nodes\n", n)
			return nil
		},
	}
}

// provision validates the file before writing anything.
func provision(ctx context.Context, store provisioner, path string, genStartDelay int) (int, error) {
	defs, err := topology.LoadFile(path)
	if err != nil {
		return 0, err
	}
	if _, err := topology.Sequence(defs); err != nil {
		return 0, err
	}
	if err := store.Provision(ctx, defs, genStartDelay); err != nil {
		return 0, err
	}
	return len(defs), nil
}

package main

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ohowland/winterriver/internal/pkg/database/sqldb"
	"github.com/ohowland/winterriver/internal/pkg/hmi"
)

// NewHMICommand opens the terminal dashboard. Against a relational store
// it polls the committed state; with the memory store it runs the site in
// process and follows every tick.
func NewHMICommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hmi",
		Short: "Terminal dashboard of the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(root.Config)
			if err != nil {
				return err
			}
			// log lines would tear the terminal UI
			log.SetOutput(io.Discard)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			dash := hmi.New("Winter River")

			var wg sync.WaitGroup
			if s.Store.Driver == MemoryDriver {
				s.Web.Enabled = false
				st, err := assemble(ctx, s)
				if err != nil {
					return err
				}
				wg.Add(2)
				go func() {
					defer wg.Done()
					st.run(ctx)
				}()
				go func() {
					defer wg.Done()
					dash.Follow(ctx, st.engine.Publisher())
				}()
			} else {
				store, err := sqldb.Open(s.Store)
				if err != nil {
					return err
				}
				defer store.Close()
				wg.Add(1)
				go func() {
					defer wg.Done()
					dash.Poll(ctx, store, s.Period())
				}()
			}

			err = dash.Run(ctx)
			cancel()
			wg.Wait()
			return err
		},
	}
}

package main

import (
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/internal/app"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List the sources without completed output",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, out, err := app.NewStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		all, err := in.ListSources(ctx)
		if err != nil {
			return err
		}
		completed, err := out.CompletedSources(ctx)
		if err != nil {
			return err
		}

		for _, source := range store.Pending(all, completed) {
			fmt.Fprintln(cmd.OutOrStdout(), source)
		}
		return nil
	},
}

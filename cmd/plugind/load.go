package main

import (
	"github.com/spf13/cobra"

	"github.com/srediag/plugin-loader/plugin"
)

func newLoadCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Discover and load every plugin once, then print the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.setup()
			if err != nil {
				return err
			}
			defer rt.close()

			m, err := rt.newManager(nil)
			if err != nil {
				return err
			}
			loadErr := m.LoadPlugins(cmd.Context())
			plugin.DebugCatalogDetail(cmd.OutOrStdout(), m)
			return loadErr
		},
	}
}

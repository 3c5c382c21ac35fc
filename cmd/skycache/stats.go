package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skymap-app/skycache"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregated cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			stats, err := m.CollectCacheStats()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), skycache.FormatCacheStats(stats))
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending cache schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			// newManager already ran startup migration; report the state.
			needed, err := m.IsMigrationNeeded()
			if err != nil {
				return err
			}
			if needed {
				result := m.RunMigrations(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "migrated v%d -> v%d (%d deleted, %d errors)\n",
					result.FromVersion, result.ToVersion, result.DeletedItems, len(result.Errors))
				for _, e := range result.Errors {
					color.Red("  %s", e)
				}
				return nil
			}
			v, _, _ := m.CacheVersion()
			fmt.Fprintf(cmd.OutOrStdout(), "cache schema up to date at v%d\n", v.Version)
			return nil
		},
	}
}

func newResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all cached data and the schema version stamp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset deletes every cached byte; re-run with --force")
			}

			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if !m.ResetAllCaches() {
				return fmt.Errorf("reset incomplete; some data may remain")
			}
			color.Green("cache reset; next startup re-runs migration from zero")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm destructive reset")
	return cmd
}

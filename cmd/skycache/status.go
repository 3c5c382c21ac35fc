package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cache state of every registered layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			statuses, err := m.AllLayerStatus()
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			red := color.New(color.FgRed)
			out := cmd.OutOrStdout()

			for _, s := range statuses {
				state := red.Sprint("empty")
				if s.IsComplete {
					state = green.Sprint("complete")
				} else if s.CachedFileCount > 0 {
					state = yellow.Sprintf("partial (%d missing)", len(s.MissingFiles))
				}
				fmt.Fprintf(out, "%-14s %3d/%-3d files  %-24s\n", s.LayerID, s.CachedFileCount, s.TotalFileCount, state)
			}

			if v, ok, err := m.CacheVersion(); err == nil && ok {
				fmt.Fprintf(out, "\nschema version %d (migrated %s)\n", v.Version, v.MigratedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newClearCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [layer]",
		Short: "Delete a layer's cached files, or the whole cache with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("specify a layer id or --all")
			}

			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if all {
				if !m.ClearAllCache() {
					return fmt.Errorf("some partitions could not be deleted")
				}
				color.Green("cache cleared")
				return nil
			}
			if !m.ClearLayer(args[0]) {
				return fmt.Errorf("could not clear layer %s", args[0])
			}
			color.Green("layer %s cleared", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "delete every cache partition")
	return cmd
}

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skymap-app/skycache"
)

func newDownloadCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "download [layer...]",
		Short: "Download data layers into the offline cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("specify layer ids or --all")
			}

			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			ids := args
			if all {
				ids = nil
				for _, layer := range m.Registry().Layers() {
					ids = append(ids, layer.ID)
				}
			}

			complete, err := m.DownloadLayers(cmd.Context(), ids, progressPrinter(cmd))
			if err != nil {
				return err
			}
			if !complete {
				color.Yellow("some layers are incomplete; run `skycache repair` to retry missing files")
				return nil
			}
			color.Green("all layers downloaded")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "download every registered layer")
	return cmd
}

func newRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <layer>",
		Short: "Verify a layer and re-fetch only its missing files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.VerifyAndRepairLayer(cmd.Context(), args[0], progressPrinter(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d, repaired %d, failed %d\n",
				result.Verified, result.Repaired, result.Failed)
			if result.Failed > 0 {
				color.Yellow("%d files still missing", result.Failed)
			}
			return nil
		},
	}
}

// progressPrinter renders progress lines, overwriting in place.
func progressPrinter(cmd *cobra.Command) skycache.ProgressFunc {
	return func(p skycache.Progress) {
		fmt.Fprintf(cmd.OutOrStdout(), "\r%-16s %s %d/%d", p.TargetID, p.Status, p.CompletedUnits, p.TotalUnits)
		if p.Status != skycache.TaskDownloading && p.Status != skycache.TaskPending {
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}
}

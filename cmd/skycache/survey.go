package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSurveyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "survey",
		Short: "Manage cached HiPS sky-survey tiles",
	}
	cmd.AddCommand(newSurveyDownloadCommand())
	cmd.AddCommand(newSurveyStatusCommand())
	cmd.AddCommand(newSurveyClearCommand())
	return cmd
}

func newSurveyDownloadCommand() *cobra.Command {
	var maxOrder int

	cmd := &cobra.Command{
		Use:   "download <survey>",
		Short: "Download a survey's tiles through the given order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			survey, cfgOrder, err := cfg.survey(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-order") {
				maxOrder = cfgOrder
			}

			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			complete, err := m.DownloadSurvey(cmd.Context(), survey, maxOrder, progressPrinter(cmd))
			if err != nil {
				return err
			}
			if !complete {
				color.Yellow("survey incomplete; re-run to fetch only missing tiles")
				return nil
			}
			color.Green("survey %s cached through order %d", survey.ID, maxOrder)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxOrder, "max-order", 3, "highest tile order to download")
	return cmd
}

func newSurveyStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <survey>",
		Short: "Show a survey's cache state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			survey, _, err := cfg.survey(args[0])
			if err != nil {
				return err
			}

			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			status, err := m.SurveyStatus(survey)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "survey %s: %d tiles cached\n", status.SurveyID, status.CachedTileCount)
			if status.MaxCachedOrder >= 0 {
				fmt.Fprintf(out, "orders present: %v (max %d)\n", status.CachedOrders, status.MaxCachedOrder)
			}
			return nil
		},
	}
}

func newSurveyClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <survey>",
		Short: "Delete a survey's cached tiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if !m.ClearSurveyCache(args[0]) {
				return fmt.Errorf("could not clear survey %s", args[0])
			}
			color.Green("survey %s cleared", args[0])
			return nil
		},
	}
}

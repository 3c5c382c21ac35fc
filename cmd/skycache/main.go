// Command skycache manages the offline cache for the skymap planetarium
// client: engine data layers, HiPS survey tiles, schema migration, and
// usage diagnostics.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skymap-app/skycache"
	"github.com/skymap-app/skycache/store/disk"
)

var (
	flagConfig  string
	flagDir     string
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skycache",
		Short: "Offline cache for skymap planetarium data",
		Long: `skycache downloads the planetarium engine's static data layers and
HiPS sky-survey tiles into a local blob store so the client can operate
with partial or no network connectivity.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagDir, "cache-dir", "", "cache directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newDirCommand())
	rootCmd.AddCommand(newDownloadCommand())
	rootCmd.AddCommand(newRepairCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newClearCommand())
	rootCmd.AddCommand(newSurveyCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newResetCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveCacheDir returns the effective cache directory after applying
// the --cache-dir flag over the config file.
func resolveCacheDir() (string, error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return "", err
	}
	if flagDir != "" {
		return flagDir, nil
	}
	return cfg.CacheDir, nil
}

func newDirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the resolved cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveCacheDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}

// newManager builds a Manager from the config file and flags and runs
// startup migration before anything else touches the store.
func newManager(cmd *cobra.Command) (*skycache.Manager, error) {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	cacheDir := cfg.CacheDir
	if flagDir != "" {
		cacheDir = flagDir
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	st, err := disk.New(filepath.Join(cacheDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	m, err := skycache.New(
		skycache.WithStore(st),
		skycache.WithMetaPath(filepath.Join(cacheDir, "meta.db")),
		skycache.WithFetcher(skycache.NewHTTPFetcher(skycache.WithUserAgent("skycache/1.0"))),
		skycache.WithLayers(cfg.layers()...),
		skycache.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	if _, err := m.InitializeCacheSystem(cmd.Context()); err != nil {
		m.Close()
		return nil, fmt.Errorf("initialize cache: %w", err)
	}
	return m, nil
}

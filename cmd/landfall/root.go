package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"landfall/internal/config"
)

func newRootCommand() *cobra.Command {
	var (
		configPath string
		plain      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "landfall",
		Short: "Watch a drop directory, assemble arriving deliveries, and present live status",
		Long: `landfall watches a directory that a remote live-distribution process
deposits files into (split archive parts or standalone files), waits for
each delivery to stop changing, reassembles and extracts it, identifies
the resulting media, and presents a continuously-updating terminal
dashboard with retry/clear/cancel controls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, plain, verbose)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration file (defaults to ~/.config/landfall/config.yaml)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print status tables instead of the interactive dashboard")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "emit verbose pipeline logs")

	return cmd
}

// loadConfig resolves the configuration file. An explicit --config path
// must exist; the conventional default location is optional and falls
// back to environment-only configuration.
func loadConfig(configPath string) (*config.Config, error) {
	cfg := &config.Config{}

	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	defaultPath, err := config.DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	if config.Exists(defaultPath) {
		if err := cfg.LoadFromFile(defaultPath); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("no config file found at '%s' and environment configuration incomplete: %w", defaultPath, err)
	}

	return cfg, nil
}

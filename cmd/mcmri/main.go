package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/mcmri/config"
	"github.com/Noofbiz/mcmri/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcmri",
		Short: "Multi-channel MRI training data simulator",
		Long: `mcmri turns stored ground-truth images, coil sensitivity maps and sampling
masks into simulated multi-channel MRI measurements for training
reconstruction networks.

Samples are read from two stores: an image store (imgs, maps, ksp) and a
masks store (masks or mask_traj_<idx>, loss_masks, noise).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGenerateCmd(),
		newInspectCmd(),
		newSimulateCmd(),
		newPreviewCmd(),
		newSNRCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcmri version %s\n", version)
		},
	}
}

// env bundles what every command needs.
type env struct {
	cfg    *config.File
	logger *slog.Logger
	rng    *rand.Rand
}

// loadEnv reads the configuration named by --config, applies --log-level and
// builds the logger and the root random source.
func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	logger.Debug("configuration loaded", "path", path, "seed", seed)
	return &env{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/mcmri/synth"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic image store and masks store",
		Long: `Generate writes ellipse phantoms, coil maps and k-space to the configured
data_file and Cartesian masks (or radial mask_traj_<idx> trajectories),
loss masks and optional noise to masks_file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			o := e.cfg.Synth
			flags := cmd.Flags()
			if flags.Changed("samples") {
				o.Samples, _ = flags.GetInt("samples")
			}
			if flags.Changed("coils") {
				o.Coils, _ = flags.GetInt("coils")
			}
			if flags.Changed("size") {
				n, _ := flags.GetInt("size")
				o.Nx, o.Ny = n, n
			}
			if flags.Changed("trajectories") {
				o.Trajectories, _ = flags.GetBool("trajectories")
			}
			if flags.Changed("noise") {
				o.WithNoise, _ = flags.GetBool("noise")
			}
			if e.cfg.Seed != nil {
				o.Seed = *e.cfg.Seed
			}

			dataPath, masksPath := e.cfg.Dataset.DataFile, e.cfg.Dataset.MasksFile
			for _, p := range []string{dataPath, masksPath} {
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					return fmt.Errorf("failed to create directory for %s: %w", p, err)
				}
			}
			e.logger.Info("generating synthetic split", "samples", o.Samples, "coils", o.Coils, "nx", o.Nx, "ny", o.Ny, "trajectories", o.Trajectories)
			if err := synth.Write(dataPath, masksPath, o); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", dataPath, masksPath)
			return nil
		},
	}
	cmd.Flags().Int("samples", 0, "Number of samples (overrides synth.samples)")
	cmd.Flags().Int("coils", 0, "Number of coils (overrides synth.coils)")
	cmd.Flags().Int("size", 0, "Image size, used for both axes (overrides synth.nx/ny)")
	cmd.Flags().Bool("trajectories", false, "Write radial trajectories instead of Cartesian masks")
	cmd.Flags().Bool("noise", false, "Store precomputed noise")
	return cmd
}

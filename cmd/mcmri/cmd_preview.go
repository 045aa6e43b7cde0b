package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/mcmri/datasets"
	"github.com/Noofbiz/mcmri/preview"
)

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render heat maps of one simulated sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			idx, _ := cmd.Flags().GetInt("index")

			ds, err := datasets.NewMultiChannelMRIDataset(e.cfg.Dataset)
			if err != nil {
				return err
			}
			ds.SetRand(e.rng)
			ds.SetLogger(e.logger)
			_, s, err := ds.Example(idx)
			if err != nil {
				return err
			}

			paths, err := preview.Sample(s, e.cfg.OutputDir, fmt.Sprintf("sample_%d", idx))
			if err != nil {
				return err
			}
			for _, p := range paths {
				e.logger.Debug("wrote preview", "path", p)
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().Int("index", 0, "Sample index")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/mcmri/store"
)

type datasetInfo struct {
	Store string     `json:"store"`
	Name  string     `json:"name"`
	Meta  store.Meta `json:"meta"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [store...]",
		Short: "List the datasets of the configured stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = []string{e.cfg.Dataset.DataFile, e.cfg.Dataset.MasksFile}
			}

			var infos []datasetInfo
			for _, p := range paths {
				found, err := inspectStore(p)
				if err != nil {
					return err
				}
				infos = append(infos, found...)
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STORE\tDATASET\tDTYPE\tSHAPE")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Store, info.Name, info.Meta.DType, info.Meta.Shape)
			}
			return w.Flush()
		},
	}
}

func inspectStore(path string) ([]datasetInfo, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Datasets()
	if err != nil {
		return nil, err
	}
	infos := make([]datasetInfo, 0, len(names))
	for _, name := range names {
		meta, err := f.Meta(name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, datasetInfo{Store: path, Name: name, Meta: meta})
	}
	return infos, nil
}

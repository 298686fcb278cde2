package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
)

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List configured runtimes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		registry := runtimes.New(cfg)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tIMAGE\tCOMMAND\tCODE FILE")
		for _, name := range registry.Names() {
			spec, err := registry.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, spec.Image, strings.Join(spec.Command, " "), spec.CodeFilename)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runtimesCmd)
}

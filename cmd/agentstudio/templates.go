package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"agentstudio/internal/output"
	"agentstudio/internal/tasktemplate"
)

func newTemplatesCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tasks"},
		Short:   "List the available task templates",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := tasktemplate.Builtin()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.List())
			}
			p := output.NewPrinter(out, !root.noColor && isTTY())
			p.Banner(catalog.App())
			fmt.Fprintln(out)
			p.Templates(catalog.List(), catalog.DefaultID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print templates as JSON")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
		},
	}
}

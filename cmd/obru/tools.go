package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var toolsVerbose bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect tools the model may call",
	Args:  cobra.NoArgs,
	RunE:  listTools,
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Args:  cobra.NoArgs,
	RunE:  listTools,
}

func listTools(cmd *cobra.Command, _ []string) error {
	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()
	tools, err := b.Tools(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, t := range tools {
		fmt.Fprintf(out, "%s  %s\n", color.GreenString(t.Name), t.Description)
		if toolsVerbose && len(t.Parameters) > 0 {
			schema, err := json.MarshalIndent(t.Parameters, "    ", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "    %s\n", schema)
		}
	}
	return nil
}

func init() {
	toolsCmd.PersistentFlags().BoolVarP(&toolsVerbose, "verbose", "v", false, "print parameter schemas")
	toolsCmd.AddCommand(toolsListCmd)
}

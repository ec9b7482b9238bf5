package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var workflowSessionID string

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "List and run workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()
		flows, err := b.Workflows(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(flows) == 0 {
			fmt.Fprintln(out, "no workflows registered")
			return nil
		}
		for _, f := range flows {
			fmt.Fprintf(out, "%s  %s\n", color.GreenString(f.Name), f.Description)
		}
		return nil
	},
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <name> <input...>",
	Short: "Run a workflow and print its output",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()
		out, err := b.RunWorkflow(cmd.Context(), args[0], workflowSessionID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	workflowRunCmd.Flags().StringVar(&workflowSessionID, "session", "", "run inside this session instead of a throwaway one")
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowRunCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start a node and join an existing cluster through the given seeds",
	Long: `join is serve with at least one --seeds address required: the node
probes each seed in turn and joins the cluster it finds instead of
forming a new single-node one.`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().String("node-id", "", "Unique node ID (required)")
	joinCmd.Flags().String("addr", "127.0.0.1:7970", "Address to listen on for peer RPC")
	joinCmd.Flags().StringSlice("seeds", nil, "Comma-separated seed node addresses (required)")
	joinCmd.MarkFlagRequired("node-id")
	joinCmd.MarkFlagRequired("seeds")
}

func runJoin(cmd *cobra.Command, args []string) error {
	seeds, _ := cmd.Flags().GetStringSlice("seeds")
	if len(seeds) == 0 {
		return fmt.Errorf("join requires at least one --seeds address")
	}
	return runServe(cmd, args)
}

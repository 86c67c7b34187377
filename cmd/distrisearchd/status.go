package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/distrisearch/distrisearch/pkg/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running node's reachability over the peer RPC transport",
	Long: `status dials a node's peer RPC address and issues a Heartbeat,
reporting whether it responded and what node ID it identifies as.
distrisearchd has no separate management API surface (spec §6 only
defines peer-to-peer RPCs) -- for full cluster status, inspect the
target node's own logs or its in-process coordinator.Node.Status().`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("addr", "127.0.0.1:7970", "Peer RPC address to query")
	statusCmd.Flags().String("node-id", "cli", "Node ID to present as the caller")
	statusCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	nodeID, _ := cmd.Flags().GetString("node-id")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := rpc.NewClient()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.Heartbeat(ctx, addr, nodeID, nil)
	if err != nil {
		return fmt.Errorf("node at %s is unreachable: %w", addr, err)
	}

	fmt.Printf("node %s at %s: %s\n", resp.NodeID, addr, resp.Status)
	return nil
}

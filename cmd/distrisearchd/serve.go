package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/distrisearch/distrisearch/pkg/coordinator"
	"github.com/distrisearch/distrisearch/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a distrisearch node",
	Long: `Start a distrisearch node: joins the cluster (or forms a new one if
no seeds are reachable), then serves the peer RPC transport until
interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "", "Unique node ID (required)")
	serveCmd.Flags().String("addr", "127.0.0.1:7970", "Address to listen on for peer RPC")
	serveCmd.Flags().StringSlice("seeds", nil, "Comma-separated seed node addresses to discover an existing cluster through")
	serveCmd.MarkFlagRequired("node-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	addr, _ := cmd.Flags().GetString("addr")
	seeds, _ := cmd.Flags().GetStringSlice("seeds")

	cfg := coordinator.DefaultConfig(nodeID, addr)
	cfg.SeedNodes = seeds
	cfg.BootstrapConfig.SeedNodes = seeds
	cfg.BootstrapConfig.AllowSingleNode = len(seeds) == 0

	logger := log.WithComponent("distrisearchd")
	logger.Info().
		Str("node_id", nodeID).
		Str("addr", addr).
		Str("seeds", strings.Join(seeds, ",")).
		Msg("starting distrisearch node")

	node := coordinator.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return nil
}

package main

// federationd is the node daemon exposing the federation core's
// components (Content-Addressed Store, Peer Overlay, Replication Engine,
// Epoch Manager) as a long-running process, with a cobra root-command
// layout.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/intercoop/federation-core/core"
	"github.com/intercoop/federation-core/pkg/config"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{Use: "federationd"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(inviteCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var envName string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run a federation-core node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(envName)
		},
	}
	cmd.Flags().StringVar(&envName, "env", "", "configuration environment to merge over default.yaml")
	return cmd
}

func runNode(envName string) error {
	logger := logrus.StandardLogger()

	cfg, err := config.Load(envName)
	if err != nil {
		return fmt.Errorf("federationd: load config: %w", err)
	}
	if lvl, perr := logrus.ParseLevel(cfg.Logging.Level); perr == nil {
		logger.SetLevel(lvl)
	}

	store := core.NewInMemoryStore()

	overlayCfg := core.DefaultOverlayConfig()
	if len(cfg.Overlay.ListenAddresses) > 0 {
		overlayCfg.ListenAddresses = cfg.Overlay.ListenAddresses
	}
	overlayCfg.BootstrapPeers = cfg.Overlay.BootstrapPeers
	overlayCfg.MaxPeers = cfg.MaxPeers()
	overlayCfg.BootstrapPeriod = cfg.BootstrapPeriod()
	overlayCfg.GossipHeartbeat = cfg.GossipHeartbeat()
	if cfg.Overlay.DiscoveryTag != "" {
		overlayCfg.DiscoveryTag = cfg.Overlay.DiscoveryTag
	}
	if cfg.Overlay.GossipValidation == "permissive" {
		overlayCfg.GossipValidation = core.GossipValidationPermissive
	}

	overlay, err := core.NewOverlay(overlayCfg, logger)
	if err != nil {
		return fmt.Errorf("federationd: start overlay: %w", err)
	}
	defer overlay.Shutdown()

	core.NewReplicationEngine(store, overlay, logger)
	epochs := core.NewEpochManager(store, overlay, logger, cfg.TrustBundleSyncPeriod())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go epochs.Run(ctx)

	logger.Infof("federationd started, peer id %s", overlay.LocalPeerID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("federationd shutting down")
	return nil
}

func inviteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invite", Short: "manage federation invites"}
	cmd.AddCommand(inviteDecodeCmd())
	return cmd
}

func inviteDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [invite]",
		Short: "decode and print an icn:fed: invite string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := core.DecodeInvite(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("federation_id=%s creator=%s bootstrap_peer=%s\n", inv.FederationID, inv.CreatorDID, inv.BootstrapPeer)
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-dpos-core/core"
	"synnergy-dpos-core/pkg/config"
	"synnergy-dpos-core/pkg/utils"
)

func main() {
	rootCmd := &cobra.Command{Use: "synnergy"}
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configEnv, genesisPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a DPoS node",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runNode(configEnv, genesisPath))
		},
	}
	cmd.Flags().StringVar(&configEnv, "config", "", "config environment overlay (e.g. bootstrap)")
	cmd.Flags().StringVar(&genesisPath, "genesis", "", "path to genesis.json (defaults to network.genesis_file)")
	return cmd
}

// runNode wires the full node and blocks until interrupted. Exit codes:
// 0 clean shutdown, 1 startup failure, 2 invalid config/genesis (§6).
func runNode(configEnv, genesisPath string) int {
	cfg, err := config.Load(configEnv)
	if err != nil {
		logrus.WithError(err).Error("synnergy: failed to load config")
		return 2
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if genesisPath == "" {
		genesisPath = cfg.Network.GenesisFile
	}
	genesis, err := loadGenesis(genesisPath)
	if err != nil {
		logrus.WithError(err).WithField("path", genesisPath).Error("synnergy: failed to load genesis")
		return 2
	}

	kv, err := core.OpenKVStore(cfg.Network.DataDir)
	if err != nil {
		logrus.WithError(err).Error("synnergy: failed to open storage")
		return 1
	}
	defer kv.Close()

	bus := core.NewBus(prometheus.DefaultRegisterer)

	registry := core.NewRegistry()
	if err := registry.Register(core.NewTokenModule(1)); err != nil {
		logrus.WithError(err).Error("synnergy: failed to register token module")
		return 1
	}
	if err := registry.Register(core.NewDPoSModule(2)); err != nil {
		logrus.WithError(err).Error("synnergy: failed to register dpos module")
		return 1
	}

	chain, err := core.NewChain(kv)
	if err != nil {
		logrus.WithError(err).Error("synnergy: failed to load chain")
		return 1
	}
	bft := core.NewBFT(chain, func() ([]core.Address, error) {
		return nil, nil // TODO: resolve the active delegate set from vote-weight ranking once a ranking query is added
	})
	processor := core.NewProcessor(kv, chain, bft, registry, bus)
	defer processor.Stop()

	if err := processor.Init(genesis); err != nil {
		logrus.WithError(err).Error("synnergy: failed to apply genesis block")
		return 1
	}

	pool, err := core.NewTxPool()
	if err != nil {
		logrus.WithError(err).Error("synnergy: failed to create transaction pool")
		return 1
	}

	node, err := core.NewNode(core.NodeConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}, bus)
	if err != nil {
		logrus.WithError(err).Error("synnergy: failed to start network node")
		return 1
	}
	defer node.Close()

	peers := core.NewPeerManager(node)
	limiter := core.NewRateLimiter()
	transport := core.NewTransport(node, peers, limiter, chain, pool, processor, bus)
	broadcaster := core.NewBroadcaster(pool, func(batch []*core.Transaction) {
		if err := transport.BroadcastTransactions(batch); err != nil {
			logrus.WithError(err).Warn("synnergy: transaction broadcast failed")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := transport.Start(ctx); err != nil {
		logrus.WithError(err).Error("synnergy: failed to start transport")
		return 1
	}
	go broadcaster.Run()
	defer broadcaster.Stop()

	logrus.WithFields(logrus.Fields{
		"network": cfg.Network.ID,
		"peer":    node.ID(),
	}).Info("synnergy: node started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("synnergy: shutting down")
	return 0
}

func loadGenesis(path string) (*core.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.Wrap(err, "read genesis file")
	}
	var block core.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, utils.Wrap(err, "decode genesis json")
	}
	return &block, nil
}

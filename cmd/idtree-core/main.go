// Command idtree-core runs the identity tree core: it watches an on-chain
// identity manager contract for root transitions, maintains the canonical
// tree and its overlay of pending roots in memory, and relays the
// canonical root to one or more bridge targets.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/eth2030/idtree-core/chainwatcher"
	"github.com/eth2030/idtree-core/config"
	"github.com/eth2030/idtree-core/identitytree"
	elog "github.com/eth2030/idtree-core/log"
	"github.com/eth2030/idtree-core/metrics"
	"github.com/eth2030/idtree-core/statebridge"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := newFlagSet("idtree-core")
	configPath := fs.String("config", "idtree-core.yaml", "path to the YAML config file")
	var startBlock uint64
	fs.Uint64Var(&startBlock, "start-block", 0, "override the watcher's first block to scan from")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "idtree-core: loading config: %v\n", err)
		return 1
	}
	if startBlock != 0 {
		cfg.Watcher.StartBlock = startBlock
	}

	elog.SetDefault(elog.New(elog.ParseLevel(cfg.Log.Level), cfg.Log.Format))
	logger := elog.Default().Module("main")

	tree := identitytree.New(cfg.TreeDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcherClient, err := ethclient.DialContext(ctx, cfg.Watcher.RPCURL)
	if err != nil {
		logger.Error("dial watcher rpc", "err", err)
		return 1
	}
	watcher := chainwatcher.New(watcherClient, tree, chainwatcher.Config{
		Contract:      common.HexToAddress(cfg.Watcher.ContractAddress),
		PollInterval:  cfg.Watcher.PollInterval,
		Confirmations: cfg.Watcher.Confirmations,
		StartBlock:    cfg.Watcher.StartBlock,
	})

	service := statebridge.NewStateBridgeService()
	for _, bt := range cfg.Bridges {
		bridgeClient, err := ethclient.DialContext(ctx, bt.RPCURL)
		if err != nil {
			logger.Error("dial bridge rpc", "target", bt.Name, "err", err)
			return 1
		}
		relayer, err := newEthRelayer(bridgeClient, common.HexToAddress(bt.BridgeContractAddress), bt.PrivateKey)
		if err != nil {
			logger.Error("build relayer", "target", bt.Name, "err", err)
			return 1
		}
		bridge := statebridge.NewStateBridge(statebridge.TargetConfig{
			Name:               bt.Name,
			RelayingPeriod:     bt.RelayingPeriod,
			BlockConfirmations: bt.BlockConfirmations,
		}, tree, relayer, relayer)
		service.AddStateBridge(bridge)
	}

	runtimeStats := metrics.NewRuntimeStats()
	runtimeStats.SetTreeSizeFunc(tree.NumLeaves)
	runtimeStats.SetPendingRootsFunc(tree.PendingRoots)
	runtimeStats.SetWatcherHeadFunc(watcher.LastProcessed)

	if cfg.Metrics.ListenAddr != "" {
		exporter := metrics.NewExporter(metrics.DefaultRegistry, runtimeStats, metrics.ExporterConfig{
			Namespace: cfg.Metrics.Namespace,
		})
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: exporter.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.Metrics.ListenAddr)
	}

	reporter := metrics.NewReporter(metrics.DefaultRegistry, time.Minute)
	metricsLogger := elog.Default().Module("metrics")
	reporter.RegisterBackend("log", metrics.BackendFunc(func(snap map[string]float64) error {
		metricsLogger.Debug("metrics snapshot",
			"tree_size", snap["tree.size"],
			"overlay_size", snap["overlay.size"],
			"watcher_height", snap["watcher.block_height"],
			"relays_sent", snap["bridge.relays_sent"])
		return nil
	}))
	reporter.Start()
	defer reporter.Stop()

	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("watcher stopped", "err", err)
		}
	}()
	if err := service.Spawn(ctx); err != nil {
		logger.Error("spawn state bridge service", "err", err)
		return 1
	}

	logger.Info("idtree-core started", "tree_depth", cfg.TreeDepth, "bridges", len(cfg.Bridges))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	service.Stop()
	return 0
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"mercator-hq/turnpike/pkg/chain"
	"mercator-hq/turnpike/pkg/cli"
	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/ledger"
	"mercator-hq/turnpike/pkg/ledger/retention"
	"mercator-hq/turnpike/pkg/ledger/storage"
	"mercator-hq/turnpike/pkg/server"
	"mercator-hq/turnpike/pkg/settlement"
	"mercator-hq/turnpike/pkg/telemetry/health"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
	"mercator-hq/turnpike/pkg/tunnel"
	"mercator-hq/turnpike/pkg/voucher"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tunnel gateway",
	Long: `Start the tunnel gateway with the specified configuration.

The gateway accepts WebSocket upgrades carrying session, hostname and port
query parameters, connects to the target and relays bytes while debiting the
session's credit. Vouchers tipped with net_tip are batched and claimed on the
configured chain in the background.

Examples:
  # Start with a config file
  turnpike run --config /etc/turnpike/config.yaml

  # Configure from the environment only
  TURNPIKE_CHAIN_RPC_URL=http://127.0.0.1:8545 \
  TURNPIKE_CHAIN_PRIVATE_KEY=0x... turnpike run

  # Override listen address
  turnpike run --listen 0.0.0.0:9000

  # Validate config without starting the gateway
  turnpike run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Gateway.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.ValidateGateway(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	gw, err := buildGateway(ctx, cfg, logger, out)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0, logger.Logger)
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			go func() {
				_ = watcher.Watch(ctx, func(next *config.Config) {
					if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
						logger.Warn("ignoring reloaded log level", "error", err)
						return
					}
					logger.Info("log level updated", "level", next.Telemetry.Logging.Level)
				})
			}()
		}
	}

	go func() {
		select {
		case <-gw.server.Ready():
		case <-ctx.Done():
			return
		}
		addr := gw.server.Addr().String()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "✓ Gateway listening on %s\n", addr)
		fmt.Fprintf(out, "✓ Voucher receiver: %s\n", gw.receiver.Hex())
		fmt.Fprintf(out, "✓ Health endpoint: http://%s/health\n", addr)
		if cfg.Telemetry.Metrics.Enabled {
			fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", addr, cfg.Telemetry.Metrics.Path)
		}
		fmt.Fprintln(out, "\nPress Ctrl+C to stop")
	}()

	if err := gw.server.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Gateway stopped")
	return nil
}

// gateway is the wired gateway process.
type gateway struct {
	server   *server.Server
	receiver common.Address
}

// buildGateway connects to the chain and wires the ledger, settlement,
// storage, retention, tunnel and HTTP layers.
func buildGateway(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) (*gateway, error) {
	fmt.Fprintf(out, "Turnpike v%s\n", Version)
	if cfgFile != "" {
		fmt.Fprintf(out, "Loading configuration from: %s\n", cfgFile)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracer.Enabled() {
		fmt.Fprintf(out, "✓ Tracing enabled (%s)\n", cfg.Telemetry.Tracing.Endpoint)
	}

	chainID := new(big.Int).SetUint64(cfg.Chain.ChainID)
	contract := common.HexToAddress(cfg.Chain.ContractAddress)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.DialTimeout)
	eth, err := chain.DialEthereum(dialCtx, chain.EthereumConfig{
		RPCURL:     cfg.Chain.RPCURL,
		ChainID:    chainID,
		Contract:   contract,
		PrivateKey: cfg.Chain.PrivateKey,
		Logger:     logger.Logger,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %w", err)
	}
	fmt.Fprintf(out, "✓ Chain client ready (chain id %s)\n", chainID)

	l, err := ledger.New(ledger.Config{
		Context: voucher.Context{
			ChainID:  chainID,
			Contract: contract,
			Receiver: eth.Address(),
		},
		MinimumThreshold: new(big.Int).SetUint64(cfg.Ledger.MinimumThreshold),
		BatchTrigger:     cfg.Ledger.BatchTrigger,
		MaxSecretsPerTip: cfg.Ledger.MaxSecretsPerTip,
		Logger:           logger.Logger,
	}, voucher.NewKeccakOracle())
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	coordinator, err := settlement.NewCoordinator(eth, l, settlement.Config{
		ConfirmationTimeout: cfg.Settlement.ConfirmationTimeout,
		Logger:              logger.Logger,
		Metrics:             collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement coordinator: %w", err)
	}

	store, err := storage.Open(cfg.Settlement.Storage.Backend, cfg.Settlement.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch store: %w", err)
	}
	fmt.Fprintf(out, "✓ Batch store initialized (%s)\n", cfg.Settlement.Storage.Backend)

	dispatcher := settlement.NewDispatcher(coordinator, store, settlement.DispatcherConfig{
		Logger:  logger.Logger,
		Metrics: collector,
	})

	scheduler := retention.NewScheduler(retention.NewPruner(store, &retention.Config{
		RetentionDays: cfg.Settlement.Retention.Days,
		Schedule:      cfg.Settlement.Retention.Schedule,
	}))
	if err := scheduler.Start(ctx); err != nil {
		logger.Warn("failed to start retention scheduler", "error", err)
	} else if next := scheduler.NextRun(); next != nil {
		logger.Debug("batch retention scheduler started", "next_run", next)
	}

	book := tunnel.NewBalanceBook()
	rpc := tunnel.NewRPC(l, book, dispatcher, collector, logger.Logger)
	signals := tunnel.NewSignalBoard(book, new(big.Int).SetUint64(cfg.Client.SignalPrice), logger.Logger)
	rpc.Register(tunnel.MethodSignal, signals.Method)

	gwCfg := tunnel.ConfigFrom(&cfg.Gateway)
	gwCfg.Logger = logger.Logger
	gwCfg.Metrics = collector
	tunnels := tunnel.NewGateway(gwCfg, rpc)

	checker := health.New(0)
	checker.RegisterCheck("chain", func(ctx context.Context) error {
		_, err := eth.SequenceNumber(ctx)
		return err
	})
	checker.RegisterCheck("settlement", func(context.Context) error {
		if !dispatcher.Running() {
			return errors.New("settlement dispatcher stopped")
		}
		return nil
	})

	opts := server.Options{
		Gateway: tunnels,
		Checker: checker,
		Version: health.NewVersionInfo(Version, GitCommit, BuildDate),
		Logger:  logger.Logger,
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts.Metrics = collector.Handler()
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	srv := server.NewServer(&cfg.Gateway, &cfg.Security, opts)

	// Sessions are closed before these run, so no tip can race the flush.
	srv.OnShutdown(func(context.Context) error {
		return flushPending(l, dispatcher, logger.Logger)
	})
	srv.OnShutdown(dispatcher.Close)
	srv.OnShutdown(func(context.Context) error {
		scheduler.Stop()
		return store.Close()
	})
	// Last, so spans from the flush and the drain are exported.
	srv.OnShutdown(tracer.Shutdown)

	return &gateway{server: srv, receiver: eth.Address()}, nil
}

// flushPending hands off vouchers accepted since the last rotation so they
// are claimed before the process exits.
func flushPending(l *ledger.Ledger, settler tunnel.Settler, logger *slog.Logger) error {
	batch, err := l.TakeBatchAndRotate()
	if err != nil {
		return fmt.Errorf("failed to take pending batch: %w", err)
	}
	if batch == nil {
		return nil
	}

	id, err := settler.Dispatch(batch)
	if err != nil {
		return fmt.Errorf("failed to hand off pending batch: %w", err)
	}
	logger.Info("flushed pending batch on shutdown",
		"batch_id", id,
		"secrets", batch.Len(),
		"total", batch.Total.String())
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"mercator-hq/turnpike/pkg/cli"
	"mercator-hq/turnpike/pkg/signaler"
)

var signalFlags struct {
	url      string
	hostname string
	port     string
	session  string
}

var signalCmd = &cobra.Command{
	Use:   "signal <id> [params-json]",
	Short: "Keep a named signal alive on a gateway",
	Long: `Send net_signal(id, params) to a gateway and re-send it after every
reconnect until interrupted. Each delivery costs client.signal_price.

The gateway still requires a tunnel target, so --hostname and --port are
needed even though no bytes are relayed.

Examples:
  turnpike signal feed '{"topic":"blocks"}' --hostname 127.0.0.1 --port 9000`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSignal,
}

func init() {
	rootCmd.AddCommand(signalCmd)

	signalCmd.Flags().StringVar(&signalFlags.url, "url", "", "gateway WebSocket URL (overrides client.url)")
	signalCmd.Flags().StringVar(&signalFlags.hostname, "hostname", "", "tunnel target hostname (required)")
	signalCmd.Flags().StringVar(&signalFlags.port, "port", "", "tunnel target port (required)")
	signalCmd.Flags().StringVar(&signalFlags.session, "session", "", "session id (random when empty)")
	_ = signalCmd.MarkFlagRequired("hostname")
	_ = signalCmd.MarkFlagRequired("port")
}

func runSignal(cmd *cobra.Command, args []string) error {
	var params any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return cli.NewConfigError("params", fmt.Sprintf("invalid JSON: %v", err))
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if signalFlags.url != "" {
		cfg.Client.URL = signalFlags.url
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	ccfg := clientConfig(cfg, signalFlags.hostname, signalFlags.port, signalFlags.session, logger.Logger)
	s := signaler.New(signaler.ClientDialer(ccfg), signaler.Config{
		Price:   new(big.Int).SetUint64(cfg.Client.SignalPrice),
		Backoff: cfg.Client.ReconnectBackoff,
		Logger:  logger.Logger,
	})
	if err := s.Signal(ctx, args[0], params); err != nil {
		return cli.NewCommandError("signal", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Keeping signal %q alive via %s (session %s)\n", args[0], ccfg.URL, ccfg.Session.ID())
	fmt.Fprintln(cmd.OutOrStdout(), "\nPress Ctrl+C to stop")

	_ = s.Run(ctx)
	return nil
}

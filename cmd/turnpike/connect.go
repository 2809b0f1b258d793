package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/turnpike/pkg/cli"
	"mercator-hq/turnpike/pkg/client"
	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/voucher"
)

const forwardBufferSize = 32 * 1024

var connectFlags struct {
	listen   string
	url      string
	hostname string
	port     string
	session  string
	quiet    bool
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Forward a local port through a metered tunnel",
	Long: `Listen on a local TCP address and forward every accepted connection to
hostname:port through a turnpike gateway.

Credit is bought on demand: before bytes are sent the client generates
vouchers against the gateway's current parameters and tips them. All
connections share one session id, so credit left over from one connection is
spent by the next.

Examples:
  # Reach example.com:443 through a local gateway
  turnpike connect --hostname example.com --port 443 --listen 127.0.0.1:8443

  # Use a remote gateway and a fixed session id
  turnpike connect --url wss://gw.example.net/ --session laptop \
    --hostname 10.0.0.5 --port 22`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVarP(&connectFlags.listen, "listen", "l", "127.0.0.1:1080", "local address to accept connections on")
	connectCmd.Flags().StringVar(&connectFlags.url, "url", "", "gateway WebSocket URL (overrides client.url)")
	connectCmd.Flags().StringVar(&connectFlags.hostname, "hostname", "", "target hostname (required)")
	connectCmd.Flags().StringVar(&connectFlags.port, "port", "", "target port (required)")
	connectCmd.Flags().StringVar(&connectFlags.session, "session", "", "session id (random when empty)")
	connectCmd.Flags().BoolVarP(&connectFlags.quiet, "quiet", "q", false, "do not print the transfer meter")
	_ = connectCmd.MarkFlagRequired("hostname")
	_ = connectCmd.MarkFlagRequired("port")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if connectFlags.url != "" {
		cfg.Client.URL = connectFlags.url
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	ccfg := clientConfig(cfg, connectFlags.hostname, connectFlags.port, connectFlags.session, logger.Logger)

	ln, err := net.Listen("tcp", connectFlags.listen)
	if err != nil {
		return cli.NewCommandError("connect", err)
	}

	var meterOut io.Writer = cmd.ErrOrStderr()
	if connectFlags.quiet {
		meterOut = io.Discard
	}
	meter := cli.NewTransferMeter(meterOut, 500*time.Millisecond)

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Forwarding %s -> %s via %s (session %s)\n",
		ln.Addr(), net.JoinHostPort(ccfg.Hostname, ccfg.Port), ccfg.URL, ccfg.Session.ID())

	err = serveForward(ctx, ln, ccfg, meter, logger.Logger)
	meter.Finish()
	if err != nil {
		return cli.NewCommandError("connect", err)
	}
	return nil
}

// clientConfig maps the client section for one target.
func clientConfig(cfg *config.Config, hostname, port, session string, logger *slog.Logger) client.Config {
	return client.Config{
		URL:          cfg.Client.URL,
		Session:      client.NewSession(session),
		Hostname:     hostname,
		Port:         port,
		Generator:    voucher.NewKeccakOracle(),
		MaxMinimum:   new(big.Int).SetUint64(cfg.Client.MaxMinimum),
		LowWatermark: new(big.Int).SetUint64(cfg.Client.LowWatermark),
		Logger:       logger,
	}
}

// serveForward accepts on ln until ctx is done and tunnels each connection.
func serveForward(ctx context.Context, ln net.Listener, cfg client.Config, meter *cli.TransferMeter, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log := logger.With("local", conn.RemoteAddr().String())
			log.Debug("forwarding connection")
			if err := forward(ctx, conn, cfg, meter); err != nil {
				log.Warn("tunnel ended", "error", logging.Cause(err))
				return
			}
			log.Debug("tunnel closed")
		}()
	}
}

// errForwardDone ends a forward when either side closes cleanly.
var errForwardDone = errors.New("forward done")

// forward relays between local and a freshly dialled tunnel until either
// side closes.
func forward(ctx context.Context, local net.Conn, cfg client.Config, meter *cli.TransferMeter) error {
	defer local.Close()

	sock, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer sock.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		buf := make([]byte, forwardBufferSize)
		for {
			n, err := local.Read(buf)
			if n > 0 {
				if sendErr := sock.Send(gctx, buf[:n]); sendErr != nil {
					return sendErr
				}
				meter.Add(cli.Upload, n)
				meter.SetBalance(sock.Balance())
			}
			if errors.Is(err, io.EOF) {
				return errForwardDone
			}
			if err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for data := range sock.Data() {
			if _, err := local.Write(data); err != nil {
				return err
			}
			meter.Add(cli.Download, len(data))
			meter.SetBalance(sock.Balance())
		}
		if err := sock.Err(); err != nil && !cleanClose(err) {
			return err
		}
		return errForwardDone
	})

	// Unblock whichever side is still reading.
	g.Go(func() error {
		<-gctx.Done()
		_ = local.Close()
		_ = sock.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errForwardDone) {
		if gctx.Err() != nil && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func cleanClose(err error) bool {
	return errors.Is(err, client.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

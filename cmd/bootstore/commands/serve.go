// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bootstore/cmd/bootstore/cli"
	"github.com/bureau-foundation/bootstore/lib/control"
	"github.com/bureau-foundation/bootstore/lib/secret"
	"github.com/bureau-foundation/bootstore/lib/statefile"
	"github.com/bureau-foundation/bootstore/lib/version"
	"github.com/bureau-foundation/bootstore/node"
	"github.com/bureau-foundation/bootstore/transport"
)

// peerRequestTimeout bounds one message delivery or probe.
const peerRequestTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		flags     configFlags
		logFormat string
		logLevel  string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the bootstore node",
		Description: `Run the bootstore node until interrupted.

The node serves the peer transport on the configured listen address,
probes its peers, and answers operators on the control socket. Its
state is sealed to the node key (see "bootstore keygen") and to any
escrow recipients, and is written before any message it caused
leaves the node.`,
		Usage: "bootstore serve [--config <path>] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&logFormat, "log-format", "", "override log.format: text, json or auto")
			flagSet.StringVar(&logLevel, "log-level", "", "override log.level: debug, info, warn or error")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger, err := cli.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
			if err != nil {
				return err
			}

			lock, err := statefile.Lock(cfg.Paths.State)
			if err != nil {
				return fmt.Errorf("locking %s: %w", cfg.Paths.State, err)
			}
			defer lock.Unlock()

			identity, err := secret.ReadFromPath(cfg.Paths.KeyFile)
			if err != nil {
				return fmt.Errorf("reading node key (run \"bootstore keygen\" first): %w", err)
			}
			store, err := node.NewStore(cfg.StateFile(), identity, cfg.EscrowRecipients)
			if err != nil {
				return err
			}
			defer store.Close()

			listener, err := transport.NewTCPListener(cfg.Listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
			}
			n, err := node.New(node.Options{
				ID:            cfg.ID(),
				Config:        cfg.FsmConfig(),
				Peers:         cfg.PeerAddresses(),
				Store:         store,
				Client:        transport.NewClient(&transport.TCPDialer{Timeout: cfg.ProbeInterval}, peerRequestTimeout),
				Listener:      listener,
				TickInterval:  cfg.TickInterval,
				ProbeInterval: cfg.ProbeInterval,
				Logger:        logger,
			})
			if err != nil {
				listener.Close()
				return err
			}

			logger.Info("starting bootstore",
				"version", version.Info(),
				"id", cfg.ID().String(),
				"listen", listener.Address(),
				"peers", len(cfg.Peers),
				"state", n.Status().State,
			)

			// A node nobody can drive is stopped with its control socket.
			runCtx, stopRun := context.WithCancel(ctx)
			defer stopRun()
			controlServer := control.NewServer(cfg.Paths.ControlSocket, logger)
			node.RegisterControl(controlServer, n)
			controlCtx, stopControl := context.WithCancel(ctx)
			defer stopControl()
			controlDone := make(chan error, 1)
			go func() {
				err := controlServer.Serve(controlCtx)
				if err != nil {
					stopRun()
				}
				controlDone <- err
			}()

			runErr := n.Run(runCtx)
			stopControl()
			return errors.Join(runErr, <-controlDone)
		},
	}
}

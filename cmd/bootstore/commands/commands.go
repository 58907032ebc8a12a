// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the bootstore command tree: the node daemon
// (serve), key and state management on the sled, and the operator
// commands that drive a running node over its control socket.
package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bootstore/cmd/bootstore/cli"
	"github.com/bureau-foundation/bootstore/lib/config"
	"github.com/bureau-foundation/bootstore/lib/control"
	"github.com/bureau-foundation/bootstore/lib/version"
)

// Root builds the command tree. Command output goes to stdout.
func Root(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "bootstore",
		Description: `Bootstore: rack secret bootstrap for a sled.

Each sled runs a node that holds one share of the rack secret. Any
threshold of nodes can reconstruct the secret; new sleds join as
learners and receive a spare share from a founding member.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			keygenCommand(stdout),
			pubkeyCommand(stdout),
			resetCommand(),
			initRackCommand(stdout),
			initLearnerCommand(stdout),
			loadSecretCommand(stdout),
			statusCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					fmt.Fprintf(stdout, "bootstore %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create the node key and start the node",
				Command:     "bootstore keygen --config /etc/bootstore.yaml && bootstore serve --config /etc/bootstore.yaml",
			},
			{
				Description: "Initialize a three sled rack from one of its members",
				Command:     "bootstore init-rack --members gimlet:6:a,gimlet:6:b,gimlet:6:c",
			},
			{
				Description: "Join an existing rack from a new sled",
				Command:     "bootstore init-learner",
			},
		},
	}
}

// configFlags locates the configuration file.
type configFlags struct {
	path string
}

func (f *configFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.path, "config", "c", "",
		fmt.Sprintf("path to bootstore.yaml (default $%s)", config.EnvironmentVariable))
}

// load reads and validates the configuration.
func (f *configFlags) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.path != "" {
		cfg, err = config.LoadFile(f.path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// controlFlags locate a running node's control socket, either
// directly or through the configuration.
type controlFlags struct {
	configFlags
	socket  string
	timeout time.Duration
}

func (f *controlFlags) register(flagSet *pflag.FlagSet) {
	f.configFlags.register(flagSet)
	flagSet.StringVar(&f.socket, "socket", "", "control socket of the node (default paths.control_socket from the config)")
	flagSet.DurationVar(&f.timeout, "timeout", 0, "give up after this long (0 waits until interrupted)")
}

// call sends one action to the node.
func (f *controlFlags) call(ctx context.Context, action string, fields map[string]any, result any) error {
	socketPath := f.socket
	if socketPath == "" {
		cfg, err := f.load()
		if err != nil {
			return err
		}
		socketPath = cfg.Paths.ControlSocket
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return control.NewClient(socketPath).Call(ctx, action, fields, result)
}

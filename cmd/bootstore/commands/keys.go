// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bootstore/cmd/bootstore/cli"
	"github.com/bureau-foundation/bootstore/lib/sealed"
	"github.com/bureau-foundation/bootstore/lib/secret"
	"github.com/bureau-foundation/bootstore/lib/statefile"
)

// keyFileFlags name the node key file, directly or through the
// configuration.
type keyFileFlags struct {
	configFlags
	keyFile string
}

func (f *keyFileFlags) register(flagSet *pflag.FlagSet) {
	f.configFlags.register(flagSet)
	flagSet.StringVar(&f.keyFile, "key-file", "", "node key file (default paths.key_file from the config)")
}

func (f *keyFileFlags) path() (string, error) {
	if f.keyFile != "" {
		return f.keyFile, nil
	}
	cfg, err := f.load()
	if err != nil {
		return "", err
	}
	return cfg.Paths.KeyFile, nil
}

func keygenCommand(stdout io.Writer) *cli.Command {
	var (
		flags keyFileFlags
		force bool
	)
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the node key",
		Description: `Generate the age key the node seals its state file with, and print
its public key.

The key is written with mode 0600. An existing key is kept unless
--force is given: replacing it makes the current state file
unreadable except through escrow.`,
		Usage: "bootstore keygen [--config <path> | --key-file <path>] [--force]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&force, "force", false, "replace an existing key")
			return flagSet
		},
		Run: func(context.Context, []string) error {
			path, err := flags.path()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			if err := statefile.Write(path, keypair.PrivateKey.Bytes()); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Fprintln(stdout, keypair.PublicKey)
			return nil
		},
	}
}

func pubkeyCommand(stdout io.Writer) *cli.Command {
	var flags keyFileFlags
	return &cli.Command{
		Name:    "pubkey",
		Summary: "Print the node's public key",
		Description: `Print the age public key of the node key. Add it to another sled's
escrow_recipients to let that operator recover this node's state.`,
		Usage: "bootstore pubkey [--config <path> | --key-file <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pubkey", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(context.Context, []string) error {
			path, err := flags.path()
			if err != nil {
				return err
			}
			identity, err := secret.ReadFromPath(path)
			if err != nil {
				return err
			}
			defer identity.Close()
			publicKey, err := sealed.PublicKey(identity)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, publicKey)
			return nil
		},
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bootstore/cmd/bootstore/cli"
	"github.com/bureau-foundation/bootstore/lib/statefile"
)

func resetCommand() *cli.Command {
	var (
		flags configFlags
		yes   bool
	)
	return &cli.Command{
		Name:    "reset",
		Summary: "Erase this node's state",
		Description: `Erase the node's state file, returning the sled to uninitialized.

The node must be stopped. A founding member that resets loses its
share for good; the rack still opens as long as a threshold of
members keeps theirs.`,
		Usage: "bootstore reset [--config <path>] --yes",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reset", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVarP(&yes, "yes", "y", false, "confirm erasing the state file")
			return flagSet
		},
		Run: func(context.Context, []string) error {
			if !yes {
				return fmt.Errorf("refusing to erase state without --yes")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			lock, err := statefile.Lock(cfg.Paths.State)
			if errors.Is(err, statefile.ErrLocked) {
				return fmt.Errorf("the node is running; stop it before resetting")
			}
			if err != nil {
				return err
			}
			defer lock.Unlock()

			if err := statefile.Remove(cfg.StateFile()); err != nil {
				return err
			}
			cli.NewCommandLogger().Info("state erased", "path", cfg.StateFile())
			return nil
		},
	}
}

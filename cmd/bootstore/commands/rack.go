// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/cmd/bootstore/cli"
	"github.com/bureau-foundation/bootstore/node"
)

func initRackCommand(stdout io.Writer) *cli.Command {
	var (
		flags    controlFlags
		members  []string
		rackUUID string
	)
	return &cli.Command{
		Name:    "init-rack",
		Summary: "Initialize the rack from this node",
		Description: `Create the rack secret and hand one share to every founding member.

Run it on exactly one member; --members must include that member.
The command returns once every member has stored its share, and
fails if that takes longer than timeouts.rack_init.`,
		Usage: "bootstore init-rack --members <id,id,...> [--rack-uuid <uuid>] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init-rack", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringSliceVar(&members, "members", nil, "founding members as model:revision:identifier (required)")
			flagSet.StringVar(&rackUUID, "rack-uuid", "", "rack UUID (default: generated)")
			return flagSet
		},
		Run: func(ctx context.Context, _ []string) error {
			if len(members) == 0 {
				return fmt.Errorf("--members is required")
			}
			var response node.InitRackResponse
			err := flags.call(ctx, node.ActionInitRack, map[string]any{
				"rack_uuid": rackUUID,
				"members":   members,
			}, &response)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "rack %s initialized with %d members\n", response.RackUUID, len(members))
			return nil
		},
	}
}

func initLearnerCommand(stdout io.Writer) *cli.Command {
	var flags controlFlags
	return &cli.Command{
		Name:    "init-learner",
		Summary: "Join an initialized rack",
		Description: `Ask the founding members for a spare share, one at a time, until one
hands it out. Run it on a sled added after the rack was initialized.`,
		Usage: "bootstore init-learner [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init-learner", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, _ []string) error {
			if err := flags.call(ctx, node.ActionInitLearner, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "learned a share")
			return nil
		},
	}
}

func loadSecretCommand(stdout io.Writer) *cli.Command {
	var flags controlFlags
	return &cli.Command{
		Name:    "load-secret",
		Summary: "Reconstruct the rack secret and print its fingerprint",
		Description: `Have the node reconstruct the rack secret from its peers' shares.

Only a fingerprint is printed; the secret stays in the node. Nodes
holding the same secret print the same fingerprint.`,
		Usage: "bootstore load-secret [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("load-secret", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, _ []string) error {
			var response node.LoadRackSecretResponse
			if err := flags.call(ctx, node.ActionLoadRackSecret, nil, &response); err != nil {
				return err
			}
			fmt.Fprintln(stdout, response.Fingerprint)
			return nil
		},
	}
}

// notReadyExitCode is the status exit code of a node that holds no
// share yet.
const notReadyExitCode = 3

func statusCommand(stdout io.Writer) *cli.Command {
	var (
		flags      controlFlags
		jsonOutput bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show the node's state",
		Description: `Show the state of a running node.

Exits 0 when the node holds a share (initial_member or learned) and
3 otherwise, so scripts can wait for a sled to join.`,
		Usage: "bootstore status [--json] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&jsonOutput, "json", false, "print JSON")
			return flagSet
		},
		Run: func(ctx context.Context, _ []string) error {
			var status bootstore.Status
			if err := flags.call(ctx, node.ActionStatus, nil, &status); err != nil {
				return err
			}
			if jsonOutput {
				encoder := json.NewEncoder(stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(status); err != nil {
					return err
				}
			} else {
				printStatus(stdout, status)
			}
			if status.State != "initial_member" && status.State != "learned" {
				return &cli.ExitError{Code: notReadyExitCode}
			}
			return nil
		},
	}
}

func printStatus(w io.Writer, status bootstore.Status) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", status.ID)
	fmt.Fprintf(tw, "state:\t%s\n", status.State)
	fmt.Fprintf(tw, "clock:\t%d\n", status.Clock)
	fmt.Fprintf(tw, "connected peers:\t%d\n", status.ConnectedPeers)
	fmt.Fprintf(tw, "tracked requests:\t%d\n", status.TrackedRequests)
	if status.State == "initial_member" || status.State == "learned" {
		fmt.Fprintf(tw, "rack:\t%s\n", status.RackUUID)
		fmt.Fprintf(tw, "rack secret cached:\t%t\n", status.RackSecretCached)
	}
	if status.RackInitPending {
		fmt.Fprintf(tw, "rack init:\t%d of %d members acked since tick %d\n",
			status.RackInitAcked, status.RackInitMembers, status.RackInitStart)
	}
	if status.State == "initial_member" {
		fmt.Fprintf(tw, "learners served:\t%d\n", status.LearnersServed)
	}
	tw.Flush()
}

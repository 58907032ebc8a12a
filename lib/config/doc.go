// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of a bootstore node.
//
// Configuration comes from a single file named by either the
// BOOTSTORE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no discovery.
// Values absent from the file keep the [Default] values; ${HOME},
// ${STATE} and ${VAR:-default} are expanded in path fields.
//
// [Config.Validate] reports every problem at once with errors.Join:
// a malformed identity, a peer listed twice or listed as this node,
// relative state paths, and non-positive intervals or timeouts.
package config

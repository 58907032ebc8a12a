// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reads the sled's hardware identity from sysfs.
//
// [Baseboard] returns the board model, revision and serial number that
// DMI exposes under /sys/class/dmi/id, which is how a node configured
// with "identity: auto" learns who it is. The serial is readable only
// by root.
package hwinfo

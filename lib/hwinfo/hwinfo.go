// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/bootstore/bootstore"
)

// placeholders are values firmware vendors leave in unset DMI fields.
var placeholders = []string{
	"",
	"default string",
	"none",
	"not applicable",
	"not specified",
	"o.e.m.",
	"system serial number",
	"to be filled by o.e.m.",
}

// Baseboard returns the identity DMI reports for this machine's board.
func Baseboard() (bootstore.Baseboard, error) {
	return baseboardFrom("/sys")
}

// baseboardFrom is the testable implementation of Baseboard. sysRoot
// stands in for /sys.
func baseboardFrom(sysRoot string) (bootstore.Baseboard, error) {
	dmi := filepath.Join(sysRoot, "class/dmi/id")
	var errs []error
	field := func(name string) string {
		value, err := readSysfsString(filepath.Join(dmi, name))
		if err != nil {
			errs = append(errs, err)
			return ""
		}
		if slices.Contains(placeholders, strings.ToLower(value)) {
			errs = append(errs, fmt.Errorf("%s is unset (%q)", name, value))
			return ""
		}
		return value
	}
	baseboard := bootstore.Baseboard{
		Model:      field("board_name"),
		Revision:   field("board_version"),
		Identifier: field("board_serial"),
	}
	if err := errors.Join(errs...); err != nil {
		return bootstore.Baseboard{}, fmt.Errorf("reading baseboard identity: %w", err)
	}
	return baseboard, nil
}

// readSysfsString reads a single-line sysfs file and returns its
// trimmed content.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

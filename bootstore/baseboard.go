// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import (
	"cmp"
	"fmt"
	"strings"
)

// Baseboard identifies a physical sled. It is never reused across
// distinct machines.
type Baseboard struct {
	Model      string
	Revision   string
	Identifier string
}

// ParseBaseboard parses the "model:revision:identifier" form produced
// by [Baseboard.String]. The identifier may itself contain colons.
func ParseBaseboard(text string) (Baseboard, error) {
	parts := strings.SplitN(text, ":", 3)
	if len(parts) != 3 {
		return Baseboard{}, fmt.Errorf("baseboard %q: want model:revision:identifier", text)
	}
	baseboard := Baseboard{Model: parts[0], Revision: parts[1], Identifier: parts[2]}
	if baseboard.Model == "" || baseboard.Revision == "" || baseboard.Identifier == "" {
		return Baseboard{}, fmt.Errorf("baseboard %q: empty component", text)
	}
	return baseboard, nil
}

func (b Baseboard) String() string {
	return b.Model + ":" + b.Revision + ":" + b.Identifier
}

// IsZero reports whether b is the zero Baseboard.
func (b Baseboard) IsZero() bool { return b == Baseboard{} }

// Compare orders baseboards by model, then revision, then identifier.
func (b Baseboard) Compare(other Baseboard) int {
	if c := cmp.Compare(b.Model, other.Model); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Revision, other.Revision); c != 0 {
		return c
	}
	return cmp.Compare(b.Identifier, other.Identifier)
}

// MarshalText implements encoding.TextMarshaler, which also lets a
// Baseboard key a CBOR or YAML map.
func (b Baseboard) MarshalText() ([]byte, error) {
	if b.IsZero() {
		return nil, fmt.Errorf("cannot encode the zero baseboard")
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Baseboard) UnmarshalText(text []byte) error {
	parsed, err := ParseBaseboard(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/bootstore/bootstore"
	"github.com/bureau-foundation/bootstore/lib/hwinfo"
)

// AutoIdentity as the configured identity reads the baseboard from
// the hardware.
const AutoIdentity = "auto"

// detectBaseboard is replaced in tests.
var detectBaseboard = hwinfo.Baseboard

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BOOTSTORE_CONFIG"

// Config is the configuration of one bootstore node.
type Config struct {
	// Identity is this sled's baseboard, model:revision:identifier, or
	// "auto" to read it from DMI at load time.
	Identity string `yaml:"identity"`

	// Listen is the TCP address the peer transport binds.
	Listen string `yaml:"listen"`

	// Peers lists the other sleds this node may talk to. Every peer is
	// probed; the ones that answer are the connected set.
	Peers []PeerConfig `yaml:"peers"`

	// Paths configures on-disk locations.
	Paths PathsConfig `yaml:"paths"`

	// EscrowRecipients are extra age public keys every state file is
	// sealed to, so an operator can recover it without the node key.
	EscrowRecipients []string `yaml:"escrow_recipients"`

	// TickInterval is the wall-clock length of one logical tick.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ProbeInterval is how often unreachable peers are probed.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// Timeouts are measured in ticks.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Log configures the daemon's slog handler.
	Log LogConfig `yaml:"log"`
}

// PeerConfig is one entry of [Config].Peers.
type PeerConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is where the sealed state file and the lock live.
	State string `yaml:"state"`

	// KeyFile holds the node's age identity. Defaults to
	// ${STATE}/node.key.
	KeyFile string `yaml:"key_file"`

	// ControlSocket is the Unix socket operators use to drive the
	// node. Defaults to ${STATE}/control.sock.
	ControlSocket string `yaml:"control_socket"`
}

// TimeoutsConfig mirrors [bootstore.Config].
type TimeoutsConfig struct {
	Learn             bootstore.Ticks `yaml:"learn"`
	RackInit          bootstore.Ticks `yaml:"rack_init"`
	RackSecretRequest bootstore.Ticks `yaml:"rack_secret_request"`
	RetryInterval     bootstore.Ticks `yaml:"retry_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Format is "text", "json", or "auto" (text on a terminal, JSON
	// otherwise).
	Format string `yaml:"format"`
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// Default returns the configuration every file is loaded over. Identity
// and peers have no defaults.
func Default() *Config {
	defaults := bootstore.DefaultConfig()
	return &Config{
		Listen: "[::]:7420",
		Paths: PathsConfig{
			State:         "/var/lib/bootstore",
			KeyFile:       "${STATE}/node.key",
			ControlSocket: "${STATE}/control.sock",
		},
		TickInterval:  time.Second,
		ProbeInterval: 2 * time.Second,
		Timeouts: TimeoutsConfig{
			Learn:             defaults.LearnTimeout,
			RackInit:          defaults.RackInitTimeout,
			RackSecretRequest: defaults.RackSecretRequestTimeout,
			RetryInterval:     defaults.RetryInterval,
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

// Load loads configuration from the file named by BOOTSTORE_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your bootstore.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over [Default] and expands
// ${HOME}, ${STATE} and ${VAR:-default} in path fields. It does not
// validate; call [Config.Validate].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.expandVariables()
	if cfg.Identity == AutoIdentity {
		baseboard, err := detectBaseboard()
		if err != nil {
			return nil, fmt.Errorf("identity auto: %w", err)
		}
		cfg.Identity = baseboard.String()
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["STATE"] = c.Paths.State
	c.Paths.KeyFile = expandVars(c.Paths.KeyFile, vars)
	c.Paths.ControlSocket = expandVars(c.Paths.ControlSocket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	identity, err := bootstore.ParseBaseboard(c.Identity)
	if err != nil {
		errs = append(errs, fmt.Errorf("identity: %w", err))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	seen := make(map[bootstore.Baseboard]bool, len(c.Peers))
	for index, peer := range c.Peers {
		id, err := bootstore.ParseBaseboard(peer.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("peers[%d].id: %w", index, err))
			continue
		}
		switch {
		case id == identity:
			errs = append(errs, fmt.Errorf("peers[%d]: %s is this node's own identity", index, id))
		case seen[id]:
			errs = append(errs, fmt.Errorf("peers[%d]: duplicate peer %s", index, id))
		}
		seen[id] = true
		if _, _, err := net.SplitHostPort(peer.Address); err != nil {
			errs = append(errs, fmt.Errorf("peers[%d].address: %w", index, err))
		}
	}

	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	} else if !filepath.IsAbs(c.Paths.State) {
		errs = append(errs, fmt.Errorf("paths.state must be absolute, got %q", c.Paths.State))
	}
	if c.Paths.KeyFile == "" {
		errs = append(errs, fmt.Errorf("paths.key_file is required"))
	}
	if c.Paths.ControlSocket == "" {
		errs = append(errs, fmt.Errorf("paths.control_socket is required"))
	}

	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive"))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("probe_interval must be positive"))
	}
	if err := c.FsmConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts: %w", err))
	}

	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json or auto, got %q", c.Log.Format))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// FsmConfig returns the state machine timeouts.
func (c *Config) FsmConfig() bootstore.Config {
	return bootstore.Config{
		LearnTimeout:             c.Timeouts.Learn,
		RackInitTimeout:          c.Timeouts.RackInit,
		RackSecretRequestTimeout: c.Timeouts.RackSecretRequest,
		RetryInterval:            c.Timeouts.RetryInterval,
	}
}

// ID returns the parsed identity. Only meaningful after Validate.
func (c *Config) ID() bootstore.Baseboard {
	id, _ := bootstore.ParseBaseboard(c.Identity)
	return id
}

// PeerAddresses returns the configured peers keyed by identity. Only
// meaningful after Validate.
func (c *Config) PeerAddresses() map[bootstore.Baseboard]string {
	addresses := make(map[bootstore.Baseboard]string, len(c.Peers))
	for _, peer := range c.Peers {
		if id, err := bootstore.ParseBaseboard(peer.ID); err == nil {
			addresses[id] = peer.Address
		}
	}
	return addresses
}

// StateFile is the path of the sealed persistent state.
func (c *Config) StateFile() string {
	return filepath.Join(c.Paths.State, "state.age")
}

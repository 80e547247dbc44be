// Package config provides TOML configuration loading for lullaby.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"lullaby/internal/hwaddr"
)

// Role selects which sections Validate checks.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleController Role = "controller"
	RoleClient     Role = "client"
)

// ErrMissingBroadcast is returned when the controller has no broadcast
// address to send to.
var ErrMissingBroadcast = errors.New("broadcast address not set")

// Config is the top-level configuration structure.
type Config struct {
	LogLevel   string           `toml:"log_level"`
	Network    NetworkConfig    `toml:"network"`
	Agent      AgentConfig      `toml:"agent"`
	Controller ControllerConfig `toml:"controller"`
}

// NetworkConfig is shared by both roles.
type NetworkConfig struct {
	MACAddress       string `toml:"mac_address"`
	BroadcastAddress string `toml:"broadcast_address"`
	// Range (CIDR) narrows agent auto-detection to one interface.
	Range string `toml:"range"`
	Port             int    `toml:"port"`
	WakePort         int    `toml:"wake_port"`
	TTL              int    `toml:"ttl"`
}

// AgentConfig holds settings for the machine being monitored.
type AgentConfig struct {
	Interval string `toml:"interval"`
	Suspend  *bool  `toml:"suspend"`
}

// ControllerConfig holds settings for the monitoring side.
type ControllerConfig struct {
	HTTPListen       string `toml:"http_listen"`
	GraceWindow      string `toml:"grace_window"`
	Keepalive        string `toml:"keepalive"`
	DBPath           string `toml:"db_path"`
	RPCSocket        string `toml:"rpc_socket"`
	HistoryRetention string `toml:"history_retention"`
}

// ParseInterval parses the agent beacon interval.
func (a *AgentConfig) ParseInterval() (time.Duration, error) {
	return parsePositive("agent.interval", a.Interval, 10*time.Second)
}

// SuspendEnabled reports whether the agent may suspend the machine.
func (a *AgentConfig) SuspendEnabled() bool {
	return a.Suspend == nil || *a.Suspend
}

// ParseGraceWindow parses the deadman grace window.
func (c *ControllerConfig) ParseGraceWindow() (time.Duration, error) {
	return parsePositive("controller.grace_window", c.GraceWindow, 12*time.Second)
}

// ParseKeepalive parses the status stream heartbeat interval.
func (c *ControllerConfig) ParseKeepalive() (time.Duration, error) {
	return parsePositive("controller.keepalive", c.Keepalive, 5*time.Second)
}

// ParseHistoryRetention parses how long journal entries are kept.
func (c *ControllerConfig) ParseHistoryRetention() (time.Duration, error) {
	return parsePositive("controller.history_retention", c.HistoryRetention, 168*time.Hour)
}

func parsePositive(name, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", name, v)
	}
	return d, nil
}

// Target parses the configured hardware address.
func (n *NetworkConfig) Target() (hwaddr.Addr, error) {
	return hwaddr.Parse(n.MACAddress)
}

// Load reads and parses a TOML config file, applying defaults and then
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// Default returns a configuration built from defaults and the
// environment alone, for running without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// applyEnv lets the deployment environment override file values.
func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MAC_ADDR"); ok && v != "" {
		cfg.Network.MACAddress = v
	}
	if v, ok := lookup("UDP_BROADCAST_ADDR"); ok && v != "" {
		cfg.Network.BroadcastAddress = v
	}
	if v, ok := lookup("UDP_LISTENER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UDP_LISTENER_PORT: %w", err)
		}
		cfg.Network.Port = port
	}
	if v, ok := lookup("HTTP_PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		cfg.Controller.HTTPListen = ":" + v
	}
	if v, ok := lookup("LULLABY_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	return nil
}

func (cfg *Config) expandPaths() {
	cfg.Controller.DBPath = ExpandPath(cfg.Controller.DBPath)
	cfg.Controller.RPCSocket = ExpandPath(cfg.Controller.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Network defaults
	if cfg.Network.Port == 0 {
		cfg.Network.Port = 9999
	}
	if cfg.Network.WakePort == 0 {
		cfg.Network.WakePort = cfg.Network.Port
	}
	if cfg.Network.TTL == 0 {
		cfg.Network.TTL = 1
	}

	// Agent defaults
	if cfg.Agent.Interval == "" {
		cfg.Agent.Interval = "10s"
	}

	// Controller defaults
	if cfg.Controller.HTTPListen == "" {
		cfg.Controller.HTTPListen = ":4242"
	}
	if cfg.Controller.GraceWindow == "" {
		cfg.Controller.GraceWindow = "12s"
	}
	if cfg.Controller.Keepalive == "" {
		cfg.Controller.Keepalive = "5s"
	}
	if cfg.Controller.DBPath == "" {
		cfg.Controller.DBPath = "/var/lib/lullaby/journal.db"
	}
	if cfg.Controller.RPCSocket == "" {
		cfg.Controller.RPCSocket = "/run/lullaby/controller.sock"
	}
	if cfg.Controller.HistoryRetention == "" {
		cfg.Controller.HistoryRetention = "168h"
	}
}

// Validate checks the settings role needs. An agent may leave the
// hardware and broadcast addresses empty and detect them at startup.
func (cfg *Config) Validate(role Role) error {
	if err := validPort("network.port", cfg.Network.Port); err != nil {
		return err
	}

	switch role {
	case RoleAgent:
		if cfg.Network.Range != "" {
			if _, _, err := net.ParseCIDR(cfg.Network.Range); err != nil {
				return fmt.Errorf("network.range: %w", err)
			}
		}
		if cfg.Network.MACAddress != "" {
			if _, err := cfg.Network.Target(); err != nil {
				return fmt.Errorf("network.mac_address: %w", err)
			}
		}
		if _, err := cfg.Agent.ParseInterval(); err != nil {
			return err
		}

	case RoleController:
		if _, err := cfg.Network.Target(); err != nil {
			return fmt.Errorf("network.mac_address: %w", err)
		}
		if cfg.Network.BroadcastAddress == "" {
			return fmt.Errorf("network.broadcast_address: %w", ErrMissingBroadcast)
		}
		if err := validPort("network.wake_port", cfg.Network.WakePort); err != nil {
			return err
		}
		if cfg.Network.TTL < 1 || cfg.Network.TTL > 255 {
			return fmt.Errorf("network.ttl: out of range: %d", cfg.Network.TTL)
		}
		for _, parse := range []func() (time.Duration, error){
			cfg.Controller.ParseGraceWindow,
			cfg.Controller.ParseKeepalive,
			cfg.Controller.ParseHistoryRetention,
		} {
			if _, err := parse(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: out of range: %d", name, port)
	}
	return nil
}

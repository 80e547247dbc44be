// Package agent implements the lullaby agent CLI entry point.
package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"lullaby/internal/agent"
	"lullaby/internal/hwaddr"
	"lullaby/internal/suspend"
	"lullaby/internal/sysinfo"
	"lullaby/internal/udp"
	"lullaby/pkg/config"
	"lullaby/pkg/logger"
)

// Run starts the agent on the monitored machine.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.LogLevel)

	if err := cfg.Validate(config.RoleAgent); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	interval, err := cfg.Agent.ParseInterval()
	if err != nil {
		return fmt.Errorf("parsing interval: %w", err)
	}

	mac, broadcast, err := identity(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := udp.Listen(ctx, cfg.Network.Port, cfg.Network.TTL, log)
	if err != nil {
		return err
	}

	dst, err := udp.ResolveBroadcast(broadcast, cfg.Network.Port)
	if err != nil {
		conn.Close()
		return err
	}

	a := agent.New(conn, agent.Config{
		Addr:      mac,
		Broadcast: dst,
		Interval:  interval,
		Suspend:   suspend.Detect(cfg.Agent.SuspendEnabled()),
	}, log)

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	log.Info().Msg("Shutting down")
	return nil
}

// identity returns the configured hardware and broadcast addresses,
// filling in whichever is missing from the primary interface.
func identity(cfg *config.Config, log zerolog.Logger) (hwaddr.Addr, string, error) {
	var mac hwaddr.Addr
	if cfg.Network.MACAddress != "" {
		parsed, err := cfg.Network.Target()
		if err != nil {
			return mac, "", fmt.Errorf("network.mac_address: %w", err)
		}
		mac = parsed
	}
	broadcast := cfg.Network.BroadcastAddress
	if !mac.IsZero() && broadcast != "" {
		return mac, broadcast, nil
	}

	info, err := sysinfo.Collect(cfg.Network.Range)
	if err != nil {
		return mac, "", fmt.Errorf("detecting network identity: %w", err)
	}
	if mac.IsZero() {
		mac = info.MACAddress
	}
	if broadcast == "" {
		broadcast = info.Broadcast
	}
	if broadcast == "" {
		broadcast = net.IPv4bcast.String()
	}

	log.Info().
		Str("interface", info.Interface).
		Str("ip", info.IPAddress).
		Str("hostname", info.Hostname).
		Str("os", info.OSName).
		Str("kernel", info.Kernel).
		Str("arch", info.Arch).
		Msg("Detected network identity")

	return mac, broadcast, nil
}

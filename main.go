// lullaby - LAN wake/sleep controller with a heartbeat-driven status feed
//
// Usage:
//
//	lullaby agent      - announce this machine and obey sleep commands
//	lullaby controller - track the target, serve wake/sleep/status
//	lullaby wake|sleep - ask the running controller to wake or suspend the target
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"lullaby/cmd/agent"
	"lullaby/cmd/controller"
	"lullaby/cmd/ctl"
	"lullaby/cmd/edit"
)

const (
	defaultSystemPath = "/etc/lullaby/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	var (
		configPath string
		watch      bool
		limit      int
	)

	flagSet := pflag.NewFlagSet("lullaby", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file")
	flagSet.BoolVarP(&watch, "watch", "w", false, "status: follow changes until interrupted")
	flagSet.IntVarP(&limit, "limit", "n", 20, "history: number of entries to show")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Usage = printUsage

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(1)
	}

	if help, _ := flagSet.GetBool("help"); help {
		printUsage()
		return
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "agent":
		err = agent.Run(configPath)
	case "controller":
		err = controller.Run(configPath)
	case "wake":
		err = ctl.Wake(configPath)
	case "sleep":
		err = ctl.Sleep(configPath)
	case "status":
		err = ctl.Status(configPath, watch)
	case "history":
		if limit <= 0 {
			err = fmt.Errorf("--limit must be positive, got %d", limit)
			break
		}
		err = ctl.History(configPath, limit)
	case "edit":
		err = edit.EditConfig(configPath)
	case "version":
		fmt.Printf("lullaby v%s\n", version)
		return
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`lullaby v%s - LAN Wake/Sleep Controller

Usage:
  lullaby <command> [--config <path>]

Commands:
  agent       Run on the monitored machine (beacons, obeys sleep commands)
  controller  Track the target and serve the HTTP API and control socket
  wake        Send a wake-on-LAN packet via the running controller
  sleep       Send a sleep command via the running controller
  status      Print the target's status (--watch to follow changes)
  history     Print recent status transitions (--limit N)
  edit        Edit the configuration file in your system editor
  version     Print version information
  help        Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)
  -w, --watch      Follow status changes until interrupted
  -n, --limit N    Number of history entries to show (default 20)

Examples:
  lullaby controller                 # Start the controller with default config
  lullaby status --watch             # Stream status changes
  lullaby wake                       # Wake the target machine

`, version, defaultSystemPath)
}

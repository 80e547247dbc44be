// Package edit opens the lullaby configuration in the user's editor.
package edit

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `log_level = "info"

[network]
  mac_address       = "AA:BB:CC:DD:EE:FF"
  broadcast_address = "192.168.1.255"
  # range           = "192.168.1.0/24"      # agent: interface to auto-detect from
  port              = 9999
  wake_port         = 9999
  ttl               = 1

[agent]
  interval = "10s"
  suspend  = true

[controller]
  http_listen       = ":4242"
  grace_window      = "12s"
  keepalive         = "5s"
  db_path           = "/var/lib/lullaby/journal.db"
  rpc_socket        = "/run/lullaby/controller.sock"
  history_retention = "168h"
`

// ErrNoEditor is returned when neither $EDITOR nor a fallback is found.
var ErrNoEditor = errors.New("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	if err := ensureConfig(path); err != nil {
		return err
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func ensureConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", ErrNoEditor
}

//go:build linux

package suspend

import (
	"fmt"
	"os/exec"
)

func detect() Capability {
	path, err := exec.LookPath("systemctl")
	if err != nil {
		return Unavailable()
	}
	return Available("systemctl suspend", func() error {
		out, err := exec.Command(path, "suspend").CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: %s", err, out)
		}
		return nil
	})
}

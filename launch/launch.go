// Package launch starts child worker processes under a root.
//
// The launcher's whole contract is spawn: the child inherits the standard
// streams and discovers the root through its environment. Lifecycle beyond
// spawn (supervision, restarts, reaping) is out of scope.
package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/ParaToolsInc/snapped/tbon"
)

// Spawn starts command with the root's advertised URL injected as
// TREEMON_ROOT, so the child comes up as a leaf of this root. Stdin,
// stdout, and stderr are inherited. Returns the started process.
func Spawn(command []string, rootURL string) (*exec.Cmd, error) {
	if len(command) == 0 {
		return nil, errors.New("launch: empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", tbon.RootEnv, rootURL))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", command[0], err)
	}

	return cmd, nil
}

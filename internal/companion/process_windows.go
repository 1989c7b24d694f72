//go:build windows

package companion

import (
	"os"
	"os/exec"
	"syscall"
)

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGTERM; the graceful path is the /shutdown request.
func terminate(p *os.Process) error {
	return p.Kill()
}

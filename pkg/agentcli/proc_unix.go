//go:build unix

package agentcli

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the agent in its own process group so cancellation
// also reaches the tool servers it spawns.
func configureProcess(cmd *exec.Cmd, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := -cmd.Process.Pid
		err := syscall.Kill(pgid, syscall.SIGTERM)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		time.AfterFunc(grace, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return err
	}
	cmd.WaitDelay = grace
}

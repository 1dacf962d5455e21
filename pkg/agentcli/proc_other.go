//go:build !unix

package agentcli

import (
	"os/exec"
	"time"
)

func configureProcess(cmd *exec.Cmd, grace time.Duration) {
	cmd.WaitDelay = grace
}

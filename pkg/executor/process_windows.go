package executor

import (
	"os/exec"
	"strconv"
)

func setupProcessGroup(_ *exec.Cmd) {}

// killProcessGroup ends the tool and every process it started.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

//go:build windows

package agent

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(*exec.Cmd) {}

// signalGroup can only reach proc itself on windows.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return proc.Signal(sig)
}

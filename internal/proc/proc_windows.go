//go:build windows

package proc

import (
	"os"
	"os/exec"
)

// JobCmd wraps exec.Cmd. Windows has no parent-death signal; orphan
// prevention relies on the explicit shutdown cleanup path instead.
type JobCmd struct {
	*exec.Cmd
}

func NewJobCmd(name string, arg ...string) *JobCmd {
	return &JobCmd{
		Cmd: exec.Command(name, arg...),
	}
}

func (j *JobCmd) Start() error {
	return j.Cmd.Start()
}

// Terminate kills a single pid. Windows has no SIGTERM equivalent for
// unrelated processes.
func Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

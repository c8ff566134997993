//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// JobCmd wraps exec.Cmd to ensure children die with the parent
type JobCmd struct {
	*exec.Cmd
}

func NewJobCmd(name string, arg ...string) *JobCmd {
	return &JobCmd{
		Cmd: exec.Command(name, arg...),
	}
}

func (j *JobCmd) Start() error {
	if j.Cmd.SysProcAttr == nil {
		j.Cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	// Child receives SIGKILL when the supervising process dies, so a
	// crashed supervisor can't strand its children.
	j.Cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL

	// New process group, so the group can be signalled as a unit.
	j.Cmd.SysProcAttr.Setpgid = true

	return j.Cmd.Start()
}

// Terminate sends SIGTERM to a single pid.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

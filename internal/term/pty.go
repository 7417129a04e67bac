package term

import "os/exec"

type Pty interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Resize(cols, rows uint16) error
}

// PtyFactory starts a child process attached to a pseudo-terminal in the
// given working directory. A nil env inherits the parent environment.
type PtyFactory interface {
	Start(command string, args []string, dir string, env []string) (Pty, *exec.Cmd, error)
}

type defaultPtyFactory struct{}

func (defaultPtyFactory) Start(command string, args []string, dir string, env []string) (Pty, *exec.Cmd, error) {
	return startPty(command, args, dir, env)
}

func DefaultPtyFactory() PtyFactory {
	return defaultPtyFactory{}
}

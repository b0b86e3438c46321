package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Runner launches the language-server subprocess. The production
// implementation is ExecRunner; tests substitute in-memory fakes.
type Runner interface {
	// Start launches the executable with the given arguments and extra
	// environment entries appended to the current environment.
	Start(path string, args []string, extraEnv []string) (Process, error)
}

// Process is a launched server subprocess with stdio pipes attached.
type Process interface {
	// Stdin is the pipe the client writes requests to.
	Stdin() io.WriteCloser
	// Stdout is the pipe the server writes responses to.
	Stdout() io.Reader
	// Wait blocks until the process exits.
	Wait() error
	// Kill forcibly terminates the process.
	Kill() error
	// PID reports the operating-system process ID.
	PID() int
}

// ExecRunner launches server subprocesses with os/exec. Server stderr
// is passed through to our stderr so crash output is never lost.
type ExecRunner struct{}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

// Start launches the executable and wires up its stdio.
func (ExecRunner) Start(path string, args []string, extraEnv []string) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

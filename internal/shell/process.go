package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process is a launched child whose combined stdout and stderr can be
// read as one stream.
type Process interface {
	Pid() int
	// Output yields the merged stdout/stderr stream. It reaches EOF once
	// every holder of the write end (the child and its descendants) has
	// exited or closed it.
	Output() io.Reader
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// ExitErr is the result of waiting for the child. Only valid after Done.
	ExitErr() error
	Terminate() error
	Kill() error
	// Close releases the read end of the output stream.
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context, name string, args ...string) (Process, error)
}

type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts the command with stdout and stderr sharing one pipe. The
// child is not tied to ctx; its lifetime belongs to the caller.
func (l *ExecLauncher) Launch(ctx context.Context, name string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &CommandError{Command: CommandLine(name, args...), Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := &execProcess{
		cmd:    cmd,
		output: pr,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	output  *os.File
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Output() io.Reader {
	return p.output
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitErr() error {
	<-p.done
	return p.waitErr
}

func (p *execProcess) Terminate() error {
	return ignoreDone(p.cmd.Process.Signal(syscall.SIGTERM))
}

func (p *execProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

func (p *execProcess) Close() error {
	return p.output.Close()
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

package shell

import (
	"context"
	"os/exec"

	"github.com/creack/pty"
)

// PTYLauncher starts the child on a pseudo-terminal. Programs that only
// line-buffer a terminal then flush every line as it is written. The
// output stream ends with an I/O error instead of EOF once the child and
// its descendants have closed the terminal.
type PTYLauncher struct {
	Rows, Cols uint16
}

func NewPTYLauncher() *PTYLauncher {
	return &PTYLauncher{Rows: 40, Cols: 200}
}

func (l *PTYLauncher) Launch(ctx context.Context, name string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: l.Rows, Cols: l.Cols})
	if err != nil {
		return nil, &CommandError{Command: CommandLine(name, args...), Err: err}
	}

	p := &execProcess{
		cmd:    cmd,
		output: ptmx,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

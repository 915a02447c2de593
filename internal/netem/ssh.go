package netem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"snapshotter-bench/internal/config"

	"golang.org/x/crypto/ssh"
)

// SSHExecutor opens one session per command with password authentication.
type SSHExecutor struct {
	addr    string
	user    string
	config  *ssh.ClientConfig
	timeout time.Duration
}

func NewSSHExecutor(host string, port int, user, password string, timeout time.Duration) *SSHExecutor {
	return &SSHExecutor{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		user: user,
		config: &ssh.ClientConfig{
			User: user,
			Auth: []ssh.AuthMethod{
				ssh.Password(password),
				ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = password
					}
					return answers, nil
				}),
			},
			// The lab host is reinstalled often and is reached on a
			// dedicated network, so its key is not pinned.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
		timeout: timeout,
	}
}

func NewSSHExecutorFromConfig(cfg *config.BenchmarkConfig) *SSHExecutor {
	n := cfg.Network
	return NewSSHExecutor(n.Host, n.Port, n.User, n.Password, n.Timeout)
}

func (e *SSHExecutor) Target() string {
	return e.user + "@" + e.addr
}

func (e *SSHExecutor) Exec(ctx context.Context, command string) (string, string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return "", "", fmt.Errorf("failed to connect to %s: %w", e.addr, err)
	}

	// Close the connection when ctx ends so a stuck handshake or command
	// does not hang the sweep.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.addr, e.config)
	if err != nil {
		conn.Close()
		return "", "", fmt.Errorf("failed to open ssh connection to %s: %w", e.addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		if ctx.Err() != nil {
			return stdout.String(), stderr.String(), ctx.Err()
		}
		// A non-zero exit still produced output worth inspecting; the
		// caller decides on stderr.
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), nil
		}
		return stdout.String(), stderr.String(), fmt.Errorf("failed to run remote command: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

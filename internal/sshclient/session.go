package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Session is one authenticated SSH connection. Each command runs on its own
// channel of that connection.
type Session struct {
	client *ssh.Client
	addr   string
}

var _ scheduler.Session = (*Session)(nil)

// Execute runs command and captures stdout and stderr separately. A non-zero
// exit status is returned in the output, not as an error.
func (s *Session) Execute(ctx context.Context, command string) (scheduler.CommandOutput, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return scheduler.CommandOutput{ExitCode: -1}, fmt.Errorf("%w: open channel on %s: %v", scheduler.ErrTransport, s.addr, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Best-effort terminate session.
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return scheduler.CommandOutput{ExitCode: -1}, ctx.Err()
	case err := <-done:
		out := scheduler.CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
		return s.classify(out, err)
	}
}

func (s *Session) classify(out scheduler.CommandOutput, err error) (scheduler.CommandOutput, error) {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError

	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
		return out, nil
	case errors.As(err, &missing):
		out.ExitCode = -1
		return out, err
	default:
		out.ExitCode = -1
		return out, fmt.Errorf("%w: %s: %v", scheduler.ErrTransport, s.addr, err)
	}
}

func (s *Session) Close() error {
	return s.client.Close()
}

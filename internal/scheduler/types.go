package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPort           = 22
	DefaultTimeout        = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// Job is one host-scan unit. It is not modified once it has been queued.
type Job struct {
	ID     string
	Target string
	Port   int
	Labels map[string]string

	// Timeout bounds each connection attempt (dial + handshake + auth).
	Timeout time.Duration
	// CommandTimeout bounds a single command line; zero means no limit.
	CommandTimeout time.Duration

	Credentials []Credential // tried strictly in order
	Commands    []CommandSpec
}

// Credential is one (identity, secret) pair.
type Credential struct {
	Name     string
	Username string

	Password   string
	PrivateKey []byte // PEM
	Passphrase string
}

// String never includes the secret.
func (c Credential) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s(%s)", c.Name, c.Username)
	}
	return c.Username
}

// CommandSpec groups one or more literal command lines run on the same session.
type CommandSpec struct {
	Name  string
	Lines []string
}

// Command builds a CommandSpec named after its first line.
func Command(lines ...string) CommandSpec {
	name := ""
	if len(lines) > 0 {
		name = lines[0]
	}
	return CommandSpec{Name: name, Lines: lines}
}

// Validate reports why a job can never succeed.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Target) == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidJob)
	}
	if len(j.Credentials) == 0 {
		return fmt.Errorf("%w: %s has no credentials", ErrInvalidJob, j.Target)
	}
	if j.Port < 1 || j.Port > 65535 {
		return fmt.Errorf("%w: %s port %d out of range", ErrInvalidJob, j.Target, j.Port)
	}
	return nil
}

func (j Job) withDefaults() Job {
	j.Target = strings.TrimSpace(j.Target)
	if j.Port == 0 {
		j.Port = DefaultPort
	}
	if j.Timeout <= 0 {
		j.Timeout = DefaultTimeout
	}
	return j
}

// CommandOutput is what a session returns for one command line.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Dialer is the SSH capability the connector consumes.
type Dialer interface {
	// Dial connects to target:port and authenticates with cred. On failure it
	// must release anything it opened.
	Dial(ctx context.Context, target string, port int, cred Credential, timeout time.Duration) (Session, error)
}

// Session is an authenticated connection that can run commands.
type Session interface {
	// Execute runs one command line. A non-zero exit status is reported via
	// CommandOutput.ExitCode, not as an error. Errors wrapping ErrTransport
	// mean the session is no longer usable.
	Execute(ctx context.Context, command string) (CommandOutput, error)
	Close() error
}

// Sink receives finished outcomes from a single goroutine.
type Sink interface {
	Accept(JobOutcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(JobOutcome) error

func (f SinkFunc) Accept(o JobOutcome) error { return f(o) }

package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type fakeHost struct {
	password    string
	unreachable bool
	delay       time.Duration

	exitCodes map[string]int
	stderr    map[string]string
	// breakOn makes Execute fail with a transport error for that line.
	breakOn string
	// errOn makes Execute fail with a command-level error for that line.
	errOn   string
	panicOn string
}

type fakeDialer struct {
	mu    sync.Mutex
	hosts map[string]fakeHost
	// fallback is used for targets not present in hosts.
	fallback *fakeHost
	tried    map[string][]string

	opened atomic.Int64
	closed atomic.Int64
}

func newFakeDialer(hosts map[string]fakeHost) *fakeDialer {
	if hosts == nil {
		hosts = map[string]fakeHost{}
	}
	return &fakeDialer{hosts: hosts, tried: map[string][]string{}}
}

func (d *fakeDialer) Dial(_ context.Context, target string, port int, cred Credential, _ time.Duration) (Session, error) {
	d.mu.Lock()
	d.tried[target] = append(d.tried[target], cred.Name)
	h, ok := d.hosts[target]
	if !ok && d.fallback != nil {
		h, ok = *d.fallback, true
	}
	d.mu.Unlock()

	if !ok || h.unreachable {
		return nil, fmt.Errorf("dial tcp %s:%d: connect: connection refused", target, port)
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if cred.Password != h.password {
		return nil, fmt.Errorf("ssh: handshake failed: unable to authenticate as %s with %s", cred.Username, cred.Name)
	}
	d.opened.Add(1)
	return &fakeSession{host: h, dialer: d}, nil
}

func (d *fakeDialer) attempts(target string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.tried[target])
}

type fakeSession struct {
	host   fakeHost
	dialer *fakeDialer
	ran    []string
	closed bool
}

func (s *fakeSession) Execute(ctx context.Context, line string) (CommandOutput, error) {
	if s.closed {
		return CommandOutput{}, fmt.Errorf("%w: session closed", ErrTransport)
	}
	s.ran = append(s.ran, line)
	switch line {
	case s.host.panicOn:
		panic("boom: " + line)
	case s.host.breakOn:
		return CommandOutput{}, fmt.Errorf("%w: connection reset by peer", ErrTransport)
	case s.host.errOn:
		return CommandOutput{ExitCode: -1}, fmt.Errorf("wait: remote command exited without exit status")
	}
	if line == "sleep" {
		<-ctx.Done()
		return CommandOutput{ExitCode: -1}, ctx.Err()
	}
	return CommandOutput{
		Stdout:   "out:" + line,
		Stderr:   s.host.stderr[line],
		ExitCode: s.host.exitCodes[line],
	}, nil
}

func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		s.dialer.closed.Add(1)
	}
	return nil
}

// recordingSink fails the single-writer property if two Accept calls overlap.
type recordingSink struct {
	inFlight atomic.Int32
	overlaps atomic.Int32

	mu       sync.Mutex
	outcomes []JobOutcome
}

func (s *recordingSink) Accept(o JobOutcome) error {
	if s.inFlight.Add(1) != 1 {
		s.overlaps.Add(1)
	}
	defer s.inFlight.Add(-1)

	time.Sleep(20 * time.Microsecond)

	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) byTarget() map[string][]JobOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string][]JobOutcome{}
	for _, o := range s.outcomes {
		m[o.Target] = append(m[o.Target], o)
	}
	return m
}

func creds(pairs ...string) []Credential {
	out := make([]Credential, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Credential{
			Name:     fmt.Sprintf("%s/%s", pairs[i], pairs[i+1]),
			Username: pairs[i],
			Password: pairs[i+1],
		})
	}
	return out
}

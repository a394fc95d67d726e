package cache

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tastythames/sshscan/internal/scheduler"
	"github.com/tastythames/sshscan/internal/sshclient"
)

// Value keys recorded for every outcome, next to the parsed builtin facts.
const (
	ValueAuthAttempts    = "auth_attempts"
	ValueDurationSeconds = "duration_seconds"
	ValueCommandFailures = "command_failures"
)

type Result struct {
	At     time.Time
	Target string
	Port   int
	Labels map[string]string
	Values map[string]float64
	// Err is the connection failure, or the error that cut the command
	// sequence short.
	Err error
}

// Cache is the interface used by the engine sink and metrics.
type Cache interface {
	Set(key string, r Result)
	Snapshot() map[string]Result
}

// MemCache is an in-memory implementation of Cache.
type MemCache struct {
	mu   sync.RWMutex
	data map[string]Result
}

var (
	_ Cache          = (*MemCache)(nil)
	_ scheduler.Sink = (*MemCache)(nil)
)

func NewMemCache() *MemCache {
	return &MemCache{
		data: make(map[string]Result),
	}
}

func (c *MemCache) Set(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = r
}

func (c *MemCache) Snapshot() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Result, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Accept keeps the latest outcome per target:port.
func (c *MemCache) Accept(o scheduler.JobOutcome) error {
	c.Set(Key(o.Target, o.Port), FromOutcome(o))
	return nil
}

func Key(target string, port int) string {
	return net.JoinHostPort(target, strconv.Itoa(port))
}

// FromOutcome flattens an outcome into numeric values. Builtin output that
// does not parse is left out.
func FromOutcome(o scheduler.JobOutcome) Result {
	r := Result{
		At:     o.FinishedAt,
		Target: o.Target,
		Port:   o.Port,
		Labels: o.Labels,
		Values: map[string]float64{
			ValueAuthAttempts:    float64(o.Auth.Attempts),
			ValueDurationSeconds: o.Duration().Seconds(),
			ValueCommandFailures: float64(o.FailedCommands()),
		},
		Err: o.Err,
	}
	if r.Err == nil {
		r.Err = o.ExecErr
	}

	for _, cmd := range o.Commands {
		if cmd.State != scheduler.CommandOK || cmd.ExitCode != 0 {
			continue
		}
		facts, ok, err := sshclient.ParseFacts(cmd.Command, cmd.Stdout)
		if !ok || err != nil {
			continue
		}
		for k, v := range facts {
			r.Values[k] = v
		}
	}
	return r
}

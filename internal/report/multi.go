package report

import (
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Multi hands every outcome to each sink in order. One failing sink does not
// stop the others.
type Multi struct {
	sinks []scheduler.Sink
}

var _ scheduler.Sink = (*Multi)(nil)

func NewMulti(sinks ...scheduler.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Accept(o scheduler.JobOutcome) error {
	var res error
	for _, s := range m.sinks {
		if err := s.Accept(o); err != nil {
			res = multierror.Append(res, err)
		}
	}
	return res
}

// Close closes every sink that is an io.Closer.
func (m *Multi) Close() error {
	var res error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				res = multierror.Append(res, err)
			}
		}
	}
	return res
}

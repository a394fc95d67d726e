package scheduler

import (
	"context"

	"go.uber.org/zap"
)

// attempt is the tagged result of one credential try.
type attempt interface{ isAttempt() }

type authenticated struct {
	session    Session
	credential Credential
}

type rejected struct {
	detail error
}

func (authenticated) isAttempt() {}
func (rejected) isAttempt()      {}

// Connector authenticates against a job's target, trying each credential once
// in order and stopping at the first that works.
type Connector struct {
	dialer Dialer
	log    *zap.Logger
}

func NewConnector(d Dialer, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{dialer: d, log: log}
}

// Connect returns a live session or a *CredentialExhaustedError carrying the
// last failure. The caller owns the returned session.
func (c *Connector) Connect(ctx context.Context, job Job) (Session, AuthResult, error) {
	var res AuthResult

	for i := range job.Credentials {
		cred := job.Credentials[i]
		res.Attempts++

		switch a := c.try(ctx, job, cred).(type) {
		case authenticated:
			res.Succeeded = true
			res.Matched = &a.credential
			return a.session, res, nil
		case rejected:
			// transport and auth failures are handled the same way
			res.FailureDetail = a.detail
			c.log.Debug("credential rejected",
				zap.String("target", job.Target),
				zap.Stringer("credential", cred),
				zap.Error(a.detail))
		}
	}

	return nil, res, &CredentialExhaustedError{
		Target:   job.Target,
		Attempts: res.Attempts,
		Last:     res.FailureDetail,
	}
}

func (c *Connector) try(ctx context.Context, job Job, cred Credential) attempt {
	sess, err := c.dialer.Dial(ctx, job.Target, job.Port, cred, job.Timeout)
	if err != nil {
		return rejected{detail: err}
	}
	if sess == nil {
		return rejected{detail: ErrTransport}
	}
	return authenticated{session: sess, credential: cred}
}

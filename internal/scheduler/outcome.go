package scheduler

import "time"

type ConnectionStatus string

const (
	StatusSuccess ConnectionStatus = "SUCCESS"
	StatusFailed  ConnectionStatus = "FAILED"
)

type CommandState string

const (
	CommandOK     CommandState = "ok"
	CommandError  CommandState = "error"
	CommandNotRun CommandState = "not_run"
)

// AuthResult records how authentication went for one job.
type AuthResult struct {
	Succeeded bool
	Matched   *Credential
	Attempts  int
	// FailureDetail is the last failure seen, kept even when a later
	// credential succeeded.
	FailureDetail error
}

type CommandResult struct {
	Spec     string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	State    CommandState
	Err      error
}

// JobOutcome is the final record for one job.
type JobOutcome struct {
	JobID  string
	Target string
	Port   int
	Labels map[string]string

	Status   ConnectionStatus
	Auth     AuthResult
	Commands []CommandResult

	// Err is set iff Status is StatusFailed.
	Err error
	// ExecErr is set when the connection succeeded but the command
	// sequence was cut short.
	ExecErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

func (o JobOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports a SUCCESS connection status.
func (o JobOutcome) Succeeded() bool { return o.Status == StatusSuccess }

// FailedCommands counts lines that did not finish with exit status zero.
func (o JobOutcome) FailedCommands() int {
	n := 0
	for _, c := range o.Commands {
		if c.State != CommandOK || c.ExitCode != 0 {
			n++
		}
	}
	return n
}

func failedOutcome(job Job, err error, started time.Time) JobOutcome {
	return JobOutcome{
		JobID:      job.ID,
		Target:     job.Target,
		Port:       job.Port,
		Labels:     job.Labels,
		Status:     StatusFailed,
		Err:        err,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

package report

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/tastythames/sshscan/internal/scheduler"
)

type record struct {
	JobID  string            `json:"job_id"`
	Target string            `json:"target"`
	Port   int               `json:"port"`
	Labels map[string]string `json:"labels,omitempty"`
	Status string            `json:"status"`

	Credential    string `json:"credential,omitempty"`
	Username      string `json:"username,omitempty"`
	AuthAttempts  int    `json:"auth_attempts"`
	Error         string `json:"error,omitempty"`
	FailureDetail string `json:"failure_detail,omitempty"`
	ExecError     string `json:"exec_error,omitempty"`

	Commands []commandRecord `json:"commands,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

type commandRecord struct {
	Spec     string `json:"spec"`
	Command  string `json:"command"`
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// newRecord never copies secrets. The last auth failure is only kept when
// the host failed.
func newRecord(o scheduler.JobOutcome) record {
	r := record{
		JobID:        o.JobID,
		Target:       o.Target,
		Port:         o.Port,
		Labels:       o.Labels,
		Status:       string(o.Status),
		AuthAttempts: o.Auth.Attempts,
		Error:        errString(o.Err),
		ExecError:    errString(o.ExecErr),
		StartedAt:    o.StartedAt,
		DurationMS:   o.Duration().Milliseconds(),
	}
	if m := o.Auth.Matched; m != nil {
		r.Credential = m.Name
		r.Username = m.Username
	}
	if !o.Succeeded() {
		r.FailureDetail = errString(o.Auth.FailureDetail)
	}
	for _, c := range o.Commands {
		r.Commands = append(r.Commands, commandRecord{
			Spec:     c.Spec,
			Command:  c.Command,
			State:    string(c.State),
			ExitCode: c.ExitCode,
			Stdout:   c.Stdout,
			Stderr:   c.Stderr,
			Error:    errString(c.Err),
		})
	}
	return r
}

// JSONLines writes one JSON document per outcome. Each line goes out in a
// single Write so a concurrent `tail -f` never sees half a record.
type JSONLines struct {
	w      io.Writer
	closer io.Closer
}

var _ scheduler.Sink = (*JSONLines)(nil)

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

// OpenJSONLines appends to path, creating it if needed.
func OpenJSONLines(fs afero.Fs, path string) (*JSONLines, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open jsonl report")
	}
	return &JSONLines{w: f, closer: f}, nil
}

func (j *JSONLines) Accept(o scheduler.JobOutcome) error {
	b, err := json.Marshal(newRecord(o))
	if err != nil {
		return errors.Wrapf(err, "encode outcome for %s", o.Target)
	}
	b = append(b, '\n')
	if _, err := j.w.Write(b); err != nil {
		return errors.Wrapf(err, "write outcome for %s", o.Target)
	}
	return nil
}

func (j *JSONLines) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

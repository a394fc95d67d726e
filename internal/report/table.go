package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Table buffers outcomes and renders a summary when closed.
type Table struct {
	out  io.Writer
	rows []table.Row
}

var _ scheduler.Sink = (*Table)(nil)

func NewTable(out io.Writer) *Table {
	return &Table{out: out}
}

func (t *Table) Accept(o scheduler.JobOutcome) error {
	cred := "-"
	if o.Auth.Matched != nil {
		cred = o.Auth.Matched.String()
	}
	reason := errString(o.Err)
	if reason == "" {
		reason = errString(o.ExecErr)
	}
	t.rows = append(t.rows, table.Row{
		fmt.Sprintf("%s:%d", o.Target, o.Port),
		string(o.Status),
		cred,
		o.Auth.Attempts,
		fmt.Sprintf("%d/%d", len(o.Commands)-o.FailedCommands(), len(o.Commands)),
		o.Duration().Round(time.Millisecond).String(),
		oneLine(reason),
	})
	return nil
}

// Close renders the table. It writes nothing if no outcome was accepted.
func (t *Table) Close() error {
	if len(t.rows) == 0 {
		return nil
	}
	ta := table.NewWriter()
	ta.SetOutputMirror(t.out)
	ta.Style().Options = tableOptions()
	ta.AppendHeader(table.Row{"Target", "Status", "Credential", "Attempts", "Commands OK", "Took", "Reason"})
	ta.AppendRows(t.rows)
	ta.SortBy([]table.SortBy{{Name: "Target", Mode: table.Asc}})
	ta.Render()
	return nil
}

func tableOptions() table.Options {
	options := table.OptionsDefault
	options.DrawBorder = false
	options.SeparateColumns = false
	options.SeparateRows = false
	options.SeparateHeader = false
	return options
}

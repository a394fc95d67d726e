package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Console prints one coloured status line per host.
type Console struct {
	out io.Writer

	green  func(format string, a ...interface{}) string
	yellow func(format string, a ...interface{}) string
	red    func(format string, a ...interface{}) string
}

var _ scheduler.Sink = (*Console)(nil)

func NewConsole(out io.Writer, colored bool) *Console {
	mk := func(attr color.Attribute) func(string, ...interface{}) string {
		c := color.New(attr)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintfFunc()
	}
	return &Console{
		out:    out,
		green:  mk(color.FgGreen),
		yellow: mk(color.FgYellow),
		red:    mk(color.FgRed),
	}
}

func (c *Console) Accept(o scheduler.JobOutcome) error {
	addr := fmt.Sprintf("%s:%d", o.Target, o.Port)

	var line string
	switch {
	case !o.Succeeded():
		line = fmt.Sprintf("%s %s %s", c.red("[FAIL]"), addr, oneLine(errString(o.Err)))
	case o.ExecErr != nil || o.FailedCommands() > 0:
		line = fmt.Sprintf("%s %s as %s, %d/%d commands failed", c.yellow("[WARN]"), addr,
			o.Auth.Matched, o.FailedCommands(), len(o.Commands))
		if o.ExecErr != nil {
			line += ": " + oneLine(o.ExecErr.Error())
		}
	default:
		line = fmt.Sprintf("%s %s as %s, %d commands", c.green("[ OK ]"), addr, o.Auth.Matched, len(o.Commands))
	}
	line += fmt.Sprintf(" (%s)\n", o.Duration().Round(time.Millisecond))

	_, err := io.WriteString(c.out, line)
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

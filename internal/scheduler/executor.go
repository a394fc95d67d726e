package scheduler

import (
	"context"
	"errors"
	"time"
)

// Executor runs a job's command lines one after another on one session.
type Executor struct {
	// CommandTimeout limits each line when > 0.
	CommandTimeout time.Duration
}

// Run always returns one CommandResult per line, in order. Exit codes and
// command-level errors never stop the sequence; a transport failure does, and
// the lines after it are marked not_run.
func (e Executor) Run(ctx context.Context, sess Session, specs []CommandSpec) ([]CommandResult, error) {
	results := make([]CommandResult, 0, countLines(specs))
	var execErr *ExecutionError

	for _, spec := range specs {
		for _, line := range spec.Lines {
			r := CommandResult{Spec: spec.Name, Command: line}

			if execErr != nil {
				r.State = CommandNotRun
				execErr.NotRun++
				results = append(results, r)
				continue
			}

			out, err := e.execute(ctx, sess, line)
			r.Stdout, r.Stderr, r.ExitCode = out.Stdout, out.Stderr, out.ExitCode

			switch {
			case err == nil:
				r.State = CommandOK
			case errors.Is(err, ErrTransport):
				r.State = CommandError
				r.Err = err
				execErr = &ExecutionError{Command: line, Ran: len(results), Err: err}
			default:
				r.State = CommandError
				r.Err = err
			}
			results = append(results, r)
		}
	}

	if execErr != nil {
		return results, execErr
	}
	return results, nil
}

func (e Executor) execute(ctx context.Context, sess Session, line string) (CommandOutput, error) {
	if e.CommandTimeout <= 0 {
		return sess.Execute(ctx, line)
	}
	ctx, cancel := context.WithTimeout(ctx, e.CommandTimeout)
	defer cancel()
	return sess.Execute(ctx, line)
}

func countLines(specs []CommandSpec) int {
	n := 0
	for _, s := range specs {
		n += len(s.Lines)
	}
	return n
}

package scheduler

import (
	"fmt"

	"go.uber.org/zap"
)

// aggregator is the only caller of the sink.
type aggregator struct {
	sink Sink
	log  *zap.Logger

	succeeded  int
	failed     int
	sinkErrors int
}

// run forwards outcomes one at a time until results is closed.
func (a *aggregator) run(results <-chan JobOutcome) {
	for out := range results {
		if out.Succeeded() {
			a.succeeded++
		} else {
			a.failed++
		}

		if err := a.accept(out); err != nil {
			a.sinkErrors++
			a.log.Warn("report sink rejected outcome",
				zap.String("job_id", out.JobID),
				zap.String("target", out.Target),
				zap.Error(err))
		}
	}
}

func (a *aggregator) accept(out JobOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return a.sink.Accept(out)
}

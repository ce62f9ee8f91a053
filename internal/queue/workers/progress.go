package workers

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

// Progress reports the stages of one delivery through the progress
// reporter. Detail counters accumulate and ride along with the next report.
type Progress struct {
	reporter interfaces.ProgressReporter
	jobID    string
	attempt  int
	percent  float64
	pending  map[string]interface{}
}

func newProgress(reporter interfaces.ProgressReporter, jobID string, attempt int) *Progress {
	return &Progress{
		reporter: reporter,
		jobID:    jobID,
		attempt:  attempt,
		pending:  make(map[string]interface{}),
	}
}

// Detail queues a details key for the next report
func (p *Progress) Detail(key string, value interface{}) *Progress {
	p.pending[key] = value
	return p
}

// Step reports the active unit of work. Percent never moves backwards
// within one delivery.
func (p *Progress) Step(ctx context.Context, percent float64, step, subStep string) {
	if percent < p.percent {
		percent = p.percent
	}
	p.percent = percent
	p.reporter.Report(ctx, p.jobID, models.Processing(p.attempt, percent, step, subStep).WithDetails(p.flush()))
}

func (p *Progress) complete(ctx context.Context, result json.RawMessage) {
	p.reporter.Report(ctx, p.jobID, models.Completed(p.attempt, result).WithDetails(p.flush()))
}

func (p *Progress) fail(ctx context.Context, err error) {
	p.reporter.Report(ctx, p.jobID, models.Failed(p.attempt, err, p.flush()))
}

func (p *Progress) flush() map[string]interface{} {
	if len(p.pending) == 0 {
		return nil
	}
	details := p.pending
	p.pending = make(map[string]interface{})
	return details
}

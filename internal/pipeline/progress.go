package pipeline

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Progress tracks how many rows have been queried and how many written.
// The two counters advance independently: the orchestrator bumps the first,
// the writer the second.
type Progress struct {
	total   int64
	queried atomic.Int64
	written atomic.Int64
}

// NewProgress returns a tracker for the given row total. A total of zero
// means unknown; percentages are then omitted from the logs.
func NewProgress(total int) *Progress {
	return &Progress{total: int64(total)}
}

func (p *Progress) AddQueried(n int) {
	p.log("queried", p.queried.Add(int64(n)))
}

func (p *Progress) AddWritten(n int) {
	p.log("written", p.written.Add(int64(n)))
}

func (p *Progress) Queried() int64 { return p.queried.Load() }
func (p *Progress) Written() int64 { return p.written.Load() }

func (p *Progress) log(stage string, done int64) {
	fields := []zap.Field{zap.String("stage", stage), zap.Int64("rows", done)}
	if p.total > 0 {
		fields = append(fields, zap.Int64("total", p.total))
	}
	zap.L().Info("pipeline: progress", fields...)
}

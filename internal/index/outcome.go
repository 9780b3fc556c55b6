package index

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome reports one lifecycle operation.
type Outcome struct {
	JobID        string
	AttachmentID string
	Status       Status

	ChunkCount    int
	PatchCount    int
	PageCount     int
	VisionSkipped bool

	Duration time.Duration
	Err      error
}

// OutcomeSink receives outcomes. Emit must not block for long.
type OutcomeSink interface {
	Emit(ctx context.Context, o Outcome)
}

// SinkFunc adapts a function to OutcomeSink.
type SinkFunc func(ctx context.Context, o Outcome)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, o Outcome) { f(ctx, o) }

// LogSink writes outcomes to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs o at info, or warn when it failed.
func (s LogSink) Emit(ctx context.Context, o Outcome) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("job_id", o.JobID),
		slog.String("attachment_id", o.AttachmentID),
		slog.String("status", string(o.Status)),
		slog.Int("chunks", o.ChunkCount),
		slog.Int("pages", o.PageCount),
		slog.Int("patches", o.PatchCount),
		slog.Duration("duration", o.Duration),
	}
	if o.Err != nil {
		logger.WarnContext(ctx, "indexing_outcome", append(attrs, slog.String("error", o.Err.Error()))...)
		return
	}
	logger.InfoContext(ctx, "indexing_outcome", attrs...)
}

// MemorySink collects outcomes in memory.
type MemorySink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// Emit records o.
func (s *MemorySink) Emit(_ context.Context, o Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
}

// Outcomes returns a copy of the recorded outcomes.
func (s *MemorySink) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

// multiSink fans out to several sinks.
type multiSink []OutcomeSink

func (m multiSink) Emit(ctx context.Context, o Outcome) {
	for _, s := range m {
		s.Emit(ctx, o)
	}
}

// MultiSink combines sinks; nil entries are ignored.
func MultiSink(sinks ...OutcomeSink) OutcomeSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

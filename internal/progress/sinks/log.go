package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch at debug level using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.URL != "" {
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("provider_id", evt.ProviderID),
				zap.String("outcome", evt.Outcome),
				zap.Int("attempts", evt.Attempts))
		}
		if evt.Total > 0 || evt.Skipped > 0 {
			fields = append(fields, zap.Int64("total", evt.Total), zap.Int64("skipped", evt.Skipped))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

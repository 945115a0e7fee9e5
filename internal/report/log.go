package report

import (
	"context"
	"log/slog"

	"github.com/roach88/campbellsync/internal/domain"
)

// Log writes events to a slog.Logger. Success is logged at info,
// warning outcomes (partial, device_not_found, skipped) at warn and
// failures at error.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log reporter. A nil logger means slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Report implements Reporter.
func (l *Log) Report(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String("device", ev.Device),
		slog.String("cycle_id", ev.CycleID),
		slog.Int64("seq", ev.Seq),
	}

	if ev.Kind == KindStart || ev.Result == nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "cycle started", attrs...)
		return
	}

	res := ev.Result
	attrs = append(attrs,
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration),
	)
	if !res.Timestamp.IsZero() {
		attrs = append(attrs, slog.Time("reading_time", res.Timestamp))
	}
	if len(res.Created) > 0 {
		attrs = append(attrs, slog.Any("created", res.Created))
	}
	if len(res.Appended) > 0 {
		attrs = append(attrs, slog.Int("appended", len(res.Appended)))
	}
	if len(res.Failures) > 0 {
		attrs = append(attrs, slog.Any("failed", res.FailedFields()))
	}
	if res.Reason != "" {
		attrs = append(attrs, slog.String("reason", res.Reason))
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
	}

	level := slog.LevelInfo
	switch {
	case res.Outcome == domain.OutcomeFailure:
		level = slog.LevelError
	case res.Outcome.IsWarning():
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "cycle finished", attrs...)
}

package pipeline

import (
	"context"
	stderrors "errors"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
)

// ErrorSink receives per-item failures from a chain.
type ErrorSink interface {
	Report(ctx context.Context, err error)
}

type logSink struct {
	logger logging.Logger
}

// LogSink logs each failure as a warning with its task and file.
func LogSink(logger logging.Logger) ErrorSink {
	return &logSink{logger: logger}
}

func (s *logSink) Report(ctx context.Context, err error) {
	var se *errors.SiteError
	if stderrors.As(err, &se) {
		s.logger.Warn(ctx, se.Cause, "Item failed", "task", se.Task, "file", se.FilePath)
		return
	}
	s.logger.Warn(ctx, err, "Item failed")
}

type multiSink []ErrorSink

// MultiSink reports to every non-nil sink.
func MultiSink(sinks ...ErrorSink) ErrorSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Report(ctx context.Context, err error) {
	for _, s := range m {
		s.Report(ctx, err)
	}
}

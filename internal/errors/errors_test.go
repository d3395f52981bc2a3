package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *SiteError
		expected string
	}{
		{
			name:     "basic error",
			err:      &SiteError{Code: "TEST_ERROR", Message: "test message"},
			expected: "[TEST_ERROR] test message",
		},
		{
			name:     "error with task",
			err:      &SiteError{Code: "TEST_ERROR", Message: "test message", Task: "styles"},
			expected: "[TEST_ERROR] task:styles test message",
		},
		{
			name: "error with location",
			err: &SiteError{
				Code:     "TEST_ERROR",
				Message:  "test message",
				FilePath: "_sass/style.scss",
				Line:     10,
				Column:   5,
			},
			expected: "[TEST_ERROR] _sass/style.scss:10:5 test message",
		},
		{
			name: "error with cause",
			err: &SiteError{
				Code:    "TEST_ERROR",
				Message: "test message",
				Cause:   fmt.Errorf("boom"),
			},
			expected: "[TEST_ERROR] test message: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSiteErrorUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("compiler exploded")
	err := NewTaskError("compile", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, &SiteError{Type: ErrorTypeTask, Code: ErrCodeTaskFailed}))
	assert.False(t, errors.Is(err, &SiteError{Type: ErrorTypeTransform, Code: ErrCodeItemTransform}))

	wrapped := fmt.Errorf("running build: %w", err)
	var se *SiteError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, "compile", se.Task)
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		registration bool
		transform    bool
		task         bool
		bind         bool
		recoverable  bool
	}{
		{name: "duplicate", err: ErrDuplicateTask("a"), registration: true},
		{name: "unknown dependency", err: ErrUnknownDependency("a", "b"), registration: true},
		{name: "cycle", err: ErrDependencyCycle([]string{"a", "b", "a"}), registration: true},
		{name: "unknown task", err: ErrUnknownTask("x"), registration: true},
		{name: "transform", err: NewTransformError("a.html", fmt.Errorf("bad")), transform: true, recoverable: true},
		{name: "task", err: NewTaskError("scripts", fmt.Errorf("bad")), task: true},
		{name: "bind", err: NewBindError("localhost:4040", fmt.Errorf("in use")), bind: true},
		{name: "plain", err: fmt.Errorf("plain")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.registration, IsRegistrationError(tt.err))
			assert.Equal(t, tt.transform, IsTransformError(tt.err))
			assert.Equal(t, tt.task, IsTaskError(tt.err))
			assert.Equal(t, tt.bind, IsBindError(tt.err))
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
		})
	}
}

func TestErrDependencyCycleMessage(t *testing.T) {
	err := ErrDependencyCycle([]string{"a", "b", "a"})
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Equal(t, []string{"a", "b", "a"}, err.Context["cycle"])
}

func TestErrorCollector(t *testing.T) {
	ctx := context.Background()
	collector := NewErrorCollector(0)
	assert.False(t, collector.HasErrors())

	collector.Report(ctx, nil)
	assert.False(t, collector.HasErrors())

	collector.Report(ctx, NewTransformError("_markup/index.html", fmt.Errorf("unexpected EOF")).WithTask("markup"))
	collector.Report(ctx, fmt.Errorf("generic"))

	require.True(t, collector.HasErrors())
	reports := collector.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "markup", reports[0].Task)
	assert.Equal(t, "_markup/index.html", reports[0].File)
	assert.Equal(t, ErrCodeItemTransform, reports[0].Code)
	assert.Equal(t, "generic", reports[1].Message)
	assert.Len(t, collector.ByFile("_markup/index.html"), 1)

	collector.ClearTask("markup")
	require.Len(t, collector.Reports(), 1)
	assert.Equal(t, "generic", collector.Reports()[0].Err().Error())

	located := NewTransformError("_sass/style.scss", fmt.Errorf("bad")).WithLocation("_sass/style.scss", 3, 7)
	collector.Report(ctx, located)
	reports = collector.ByFile("_sass/style.scss")
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Line)
	assert.Equal(t, 7, reports[0].Column)
}

func TestErrorCollectorLimit(t *testing.T) {
	collector := NewErrorCollector(2)
	for i := 0; i < 5; i++ {
		collector.Report(context.Background(), fmt.Errorf("err %d", i))
	}

	reports := collector.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "err 3", reports[0].Message)
	assert.Equal(t, "err 4", reports[1].Message)
}

type recordingLogger struct {
	errors int
	warns  int
}

func (l *recordingLogger) Error(context.Context, error, string, ...interface{}) { l.errors++ }
func (l *recordingLogger) Warn(context.Context, error, string, ...interface{})  { l.warns++ }

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewTransformError("a.scss", fmt.Errorf("x")))
	handler.Handle(ctx, NewTaskError("scripts", fmt.Errorf("x")))
	handler.Handle(ctx, fmt.Errorf("plain"))

	assert.Equal(t, 1, logger.warns)
	assert.Equal(t, 2, logger.errors)
}

package errors

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Report is one error recorded by an ErrorCollector.
type Report struct {
	Task      string    `json:"task,omitempty"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
	Column    int       `json:"column,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	err       error
}

// Err returns the original error.
func (r Report) Err() error {
	return r.err
}

// ErrorCollector collects errors reported by pipeline runs. It satisfies the
// pipeline error sink contract and is safe for concurrent use.
type ErrorCollector struct {
	reports []Report
	limit   int
	mutex   sync.RWMutex
}

// NewErrorCollector creates a new error collector. A limit of zero keeps
// every report; otherwise only the most recent limit reports are kept.
func NewErrorCollector(limit int) *ErrorCollector {
	return &ErrorCollector{
		reports: make([]Report, 0),
		limit:   limit,
	}
}

// Report records err.
func (ec *ErrorCollector) Report(_ context.Context, err error) {
	if err == nil {
		return
	}

	r := Report{
		Message:   err.Error(),
		Timestamp: time.Now(),
		err:       err,
	}
	var se *SiteError
	if errors.As(err, &se) {
		r.Task = se.Task
		r.File = se.FilePath
		r.Line = se.Line
		r.Column = se.Column
		r.Code = se.Code
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.reports = append(ec.reports, r)
	if ec.limit > 0 && len(ec.reports) > ec.limit {
		ec.reports = ec.reports[len(ec.reports)-ec.limit:]
	}
}

// Reports returns a copy of the collected reports, oldest first.
func (ec *ErrorCollector) Reports() []Report {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]Report, len(ec.reports))
	copy(result, ec.reports)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.reports) > 0
}

// ClearTask drops the reports recorded for task, typically after the task
// succeeded again.
func (ec *ErrorCollector) ClearTask(task string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	kept := ec.reports[:0]
	for _, r := range ec.reports {
		if r.Task != task {
			kept = append(kept, r)
		}
	}
	ec.reports = kept
}

// ByFile returns reports for a specific file
func (ec *ErrorCollector) ByFile(file string) []Report {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var out []Report
	for _, r := range ec.reports {
		if r.File == file {
			out = append(out, r)
		}
	}
	return out
}

// Package store persists solved-run reports on the filesystem so that runs
// can be listed and cited after the process exits.
package store

// Store defines the interface for report persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the report doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveReport atomically saves a report. An existing report with the
	// same run id is overwritten. Implementations should write through a
	// temp file + rename so a crash never leaves a torn file behind.
	SaveReport(runID string, report *Report) error

	// LoadReport retrieves the report for the given run.
	// Returns ErrNotFound if no report exists for this runID.
	LoadReport(runID string) (*Report, error)

	// ListReports returns the listing view of every stored report. The
	// returned slice may be empty.
	ListReports() ([]ReportInfo, error)

	// DeleteReport removes the report and all associated artifacts for the
	// given run, including the reduction trace.
	// Returns ErrNotFound if no report exists for this runID.
	DeleteReport(runID string) error
}

// ErrNotFound is returned when a requested report does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing report.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "report not found: " + e.RunID
	}
	return "report not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

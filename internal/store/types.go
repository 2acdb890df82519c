package store

import (
	"time"
)

// RunConfig records the inputs of a worst-case study run. A copy lives
// inside each report so a listing is self-describing.
type RunConfig struct {
	Study              string  `json:"study"`
	N                  int     `json:"n"`
	Gamma              float64 `json:"gamma,omitempty"`
	L                  float64 `json:"l,omitempty"`
	DimensionReduction string  `json:"dimensionReduction,omitempty"`
}

// Report is the persisted outcome of one solved performance-estimation
// problem. All fields are serialized to JSON.
//
// The report keeps the numbers a reader would want to cite or re-check: the
// computed worst-case value, the known closed-form rate when the study has
// one, and the solver's own account of the solve (status, iterations,
// residual gap, recovered dimension). It deliberately does not keep the Gram
// matrix or the dual multipliers; those are cheap to recompute by re-running
// the study, and storing them would tie the file format to solver internals.
type Report struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"runId"`

	// Config holds the study name and parameters the run was made with.
	Config RunConfig `json:"config"`

	// WorstCase is the computed tight worst-case value.
	WorstCase float64 `json:"worstCase"`

	// Theory is the published closed-form rate; HasTheory reports whether
	// one applies to this parameter choice.
	Theory    float64 `json:"theory,omitempty"`
	HasTheory bool    `json:"hasTheory"`

	// Status is the solver verdict ("optimal", "inaccurate", ...).
	Status string `json:"status"`

	// Iterations and Gap describe the main interior-point solve.
	Iterations int     `json:"iterations"`
	Gap        float64 `json:"gap"`

	// Dimension is the number of significant Gram eigenvalues, i.e. the
	// dimension of the recovered worst-case instance.
	Dimension int `json:"dimension"`

	// Example maps iterate labels to their coordinates in the recovered
	// low-dimensional instance. Optional.
	Example map[string][]float64 `json:"example,omitempty"`

	// CreatedAt records when the run finished.
	CreatedAt time.Time `json:"createdAt"`
}

// ReportInfo is the listing view of a report: identity and headline numbers
// without the example coordinates.
type ReportInfo struct {
	RunID     string    `json:"runId"`
	Study     string    `json:"study"`
	WorstCase float64   `json:"worstCase"`
	Status    string    `json:"status"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToInfo strips a report down to its listing view.
func (r *Report) ToInfo() ReportInfo {
	return ReportInfo{
		RunID:     r.RunID,
		Study:     r.Config.Study,
		WorstCase: r.WorstCase,
		Status:    r.Status,
		Dimension: r.Dimension,
		CreatedAt: r.CreatedAt,
	}
}

// Validate checks that the report carries the fields every consumer relies
// on.
func (r *Report) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Config.Study == "" {
		return &ValidationError{Field: "Config.Study", Reason: "cannot be empty"}
	}
	if r.Config.N < 1 {
		return &ValidationError{Field: "Config.N", Reason: "must be positive"}
	}
	if r.Status == "" {
		return &ValidationError{Field: "Status", Reason: "cannot be empty"}
	}
	if r.Dimension < 0 {
		return &ValidationError{Field: "Dimension", Reason: "cannot be negative"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError reports a malformed field in a report.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

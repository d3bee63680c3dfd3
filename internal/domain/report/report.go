// Package report holds the domain model of an archive analysis task: its
// status machine, the aggregated generator results and the ports the
// orchestrator depends on.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// StructuredReport is a single generator's output encoded as JSON.
// Its shape is generator specific and opaque to the orchestrator.
type StructuredReport = json.RawMessage

// Results is the aggregated payload persisted on SUCCESS, keyed by
// generator name. It serializes as {"results": {"<generator>": {...}}}.
type Results struct {
	Reports map[string]StructuredReport `json:"results"`
}

// NewResults creates an empty Results ready for aggregation.
func NewResults() *Results {
	return &Results{Reports: make(map[string]StructuredReport)}
}

// Add records a generator's report under its name.
func (r *Results) Add(generator string, rep StructuredReport) {
	r.Reports[generator] = rep
}

// Marshal serializes the aggregated payload.
func (r *Results) Marshal() ([]byte, error) { return json.Marshal(r) }

// UnmarshalResults decodes a persisted aggregated payload. An empty input
// decodes to nil.
func UnmarshalResults(data []byte) (*Results, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var res Results
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding report results: %w", err)
	}
	return &res, nil
}

// Report is the record of one task: its id, status and, once SUCCESS,
// the aggregated results.
type Report struct {
	id        string
	status    Status
	results   *Results
	createdAt time.Time
	updatedAt time.Time
}

// NewReport creates a PENDING report for the given task id.
func NewReport(id string) *Report {
	now := time.Now()
	return &Report{id: id, status: StatusPending, createdAt: now, updatedAt: now}
}

// ReconstructReport rebuilds a Report from persisted state.
func ReconstructReport(id string, status Status, results *Results, createdAt, updatedAt time.Time) *Report {
	return &Report{
		id:        id,
		status:    status,
		results:   results,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (r *Report) ID() string           { return r.id }
func (r *Report) Status() Status       { return r.status }
func (r *Report) Results() *Results    { return r.results }
func (r *Report) CreatedAt() time.Time { return r.createdAt }
func (r *Report) UpdatedAt() time.Time { return r.updatedAt }

// Transition moves the report to status, enforcing forward-only transitions
// and that results are present if and only if the target is SUCCESS.
func (r *Report) Transition(status Status, results *Results) error {
	if err := r.status.ValidateTransition(status); err != nil {
		return err
	}
	if err := ValidateResults(status, results); err != nil {
		return err
	}
	r.status = status
	r.results = results
	r.updatedAt = time.Now()
	return nil
}

// ValidateResults enforces the results/status pairing.
func ValidateResults(status Status, results *Results) error {
	if (status == StatusSuccess) != (results != nil) {
		return fmt.Errorf("%w: status %s", ErrInvalidResults, status)
	}
	return nil
}

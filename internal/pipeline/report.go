package pipeline

import (
	"encoding/json"
	"time"

	"salesetl/internal/warehouse"

	"github.com/google/uuid"
)

// State is a phase of one orchestrator run.
type State string

const (
	StateStart          State = "Start"
	StateRunExtractors  State = "RunExtractors"
	StateLoadDimensions State = "LoadDimensions"
	StateLoadFacts      State = "LoadFacts"
	StateDone           State = "Done"
	StateError          State = "Error"
	// StateSkipped ends a run that found the run lock held.
	StateSkipped State = "Skipped"
)

// ExtractorReport is the contribution of one extractor.
type ExtractorReport struct {
	Name      string `json:"name"`
	Sales     int    `json:"sales"`
	Dimension bool   `json:"dimension"`
	Error     string `json:"error,omitempty"`
}

// DimensionReport is the outcome of one dimension loader.
type DimensionReport struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

// RunReport records what one run did. It is built by the orchestrator,
// rendered by the CLI and published as JSON.
type RunReport struct {
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Extractors        []ExtractorReport         `json:"extractors"`
	DimensionsSkipped bool                      `json:"dimensions_skipped"`
	Dimensions        []DimensionReport         `json:"dimensions"`
	Facts             *warehouse.FactLoadResult `json:"facts,omitempty"`
	FactError         string                    `json:"fact_error,omitempty"`

	// FailedPhase and Error are set when the run ended in StateError.
	FailedPhase State  `json:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newRunReport(now time.Time) *RunReport {
	return &RunReport{
		RunID:      uuid.NewString(),
		State:      StateStart,
		StartedAt:  now,
		Extractors: []ExtractorReport{},
		Dimensions: []DimensionReport{},
	}
}

func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalSales sums sales over every extractor.
func (r *RunReport) TotalSales() int {
	total := 0
	for _, e := range r.Extractors {
		total += e.Sales
	}
	return total
}

// Succeeded reports whether the run reached Done.
func (r *RunReport) Succeeded() bool { return r.State == StateDone }

// Degraded reports a completed run that lost part of its work.
func (r *RunReport) Degraded() bool {
	for _, e := range r.Extractors {
		if e.Error != "" {
			return true
		}
	}
	for _, d := range r.Dimensions {
		if d.Error != "" {
			return true
		}
	}
	return r.FactError != "" || (r.Facts != nil && r.Facts.Failed > 0)
}

func (r *RunReport) JSON() ([]byte, error) {
	return json.Marshal(r)
}

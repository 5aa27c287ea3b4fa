package align

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agentforest/forest/internal/oracle"
)

// Report is the persisted alignment artifact.
type Report struct {
	GeneratedAt time.Time  `json:"generated_at"`
	RunID       string     `json:"run_id,omitempty"`
	Judgments   []Judgment `json:"judgments"`
}

// Counts tallies judgments by status.
func (r *Report) Counts() map[oracle.AlignmentStatus]int {
	counts := make(map[oracle.AlignmentStatus]int)
	for _, j := range r.Judgments {
		counts[j.Status]++
	}
	return counts
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

package stores

import (
	"time"

	"github.com/indigoops/indigo/pkg/engine"
)

// BuildRun is one row of the run history. The full status of the latest run
// of a location lives in build_status; build_runs keeps a summary per run.
type BuildRun struct {
	RunID         string            `json:"run_id"`
	LocationID    string            `json:"location_id"`
	PlanHash      string            `json:"plan_hash"`
	Status        engine.BuildState `json:"status"`
	DeployedCount int               `json:"deployed_count"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	LastRunAt     time.Time         `json:"last_run_at"`
}

// ListOptions bounds list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return 50
	}
	return o.Limit
}

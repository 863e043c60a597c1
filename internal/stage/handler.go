package stage

import "context"

// Stage names used in logs, reports, and the ledger.
const (
	NameSource  = "source"
	NameFetch   = "fetch"
	NameExtract = "extract"
	NameMerge   = "merge"
	NameCommit  = "commit"
)

// HealthChecker is implemented by stages that can report readiness before a run.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

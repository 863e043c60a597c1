package preflight

import (
	"context"

	"paperpipe/internal/config"
)

// MinFreeBytes is the free space required under base_dir before a run.
const MinFreeBytes uint64 = 256 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local checks a run depends on: directory access and
// free space. Network reachability is left to CheckSource so that a flaky
// listing never blocks the backlog.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Base directory", cfg.Paths.BaseDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Text directory", cfg.Paths.TextDir),
		CheckFreeSpace("Free space", cfg.Paths.BaseDir, MinFreeBytes),
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

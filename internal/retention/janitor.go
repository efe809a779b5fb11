// Package retention implements the run-record retention policy. Persisted
// runs accumulate one document per execution; the janitor periodically
// purges runs past the retention window and, above a count cap, the oldest
// surplus runs.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown. Deletion failures are logged and
// retried on the next cycle, never escalated.
package retention

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Scanned int
	Purged  int
	Errors  int
}

// Janitor periodically purges expired run documents.
type Janitor struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
	maxRuns  int
}

// NewJanitor creates a retention janitor. maxAge bounds run age; maxRuns
// bounds the total run count (0 disables the respective bound).
func NewJanitor(s store.Store, interval, maxAge time.Duration, maxRuns int) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{store: s, interval: interval, maxAge: maxAge, maxRuns: maxRuns}
}

// Start runs the janitor loop until ctx is cancelled. One cycle runs
// immediately on start.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		j.cycle(ctx)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.cycle(ctx)
			}
		}
	}()
}

// RunCycle executes one retention pass and returns its stats.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	return j.cycle(ctx)
}

func (j *Janitor) cycle(ctx context.Context) CycleStats {
	var stats CycleStats

	runs, err := j.store.ListDocuments(ctx, store.DocumentFilter{Type: models.DocWorkflowRun})
	if err != nil {
		log.Warn().Err(err).Msg("retention cycle could not list runs")
		stats.Errors++
		return stats
	}
	stats.Scanned = len(runs)

	// Oldest first, so the count cap removes the oldest surplus.
	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})

	cutoff := time.Time{}
	if j.maxAge > 0 {
		cutoff = time.Now().UTC().Add(-j.maxAge)
	}

	keep := len(runs)
	for _, run := range runs {
		expired := !cutoff.IsZero() && run.CreatedAt.Before(cutoff)
		overCap := j.maxRuns > 0 && keep > j.maxRuns
		if !expired && !overCap {
			break
		}
		if err := j.store.DeleteDocument(ctx, run.ID); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("retention purge failed")
			stats.Errors++
			continue
		}
		stats.Purged++
		keep--
	}

	if stats.Purged > 0 || stats.Errors > 0 {
		log.Info().Int("scanned", stats.Scanned).Int("purged", stats.Purged).Int("errors", stats.Errors).Msg("retention cycle complete")
	}
	return stats
}

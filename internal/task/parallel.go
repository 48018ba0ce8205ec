package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/mediascribe/internal/domain"
)

// ProcessTasksInParallel processes ids on at most maxWorkers goroutines and
// returns each id's outcome. Duplicate ids are processed once. Completion
// order is unspecified.
func (o *Orchestrator) ProcessTasksInParallel(ctx context.Context, ids []int64, maxWorkers int) map[int64]bool {
	results := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return results
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(maxWorkers)

	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		g.Go(func() error {
			ok := o.Process(ctx, id)
			mu.Lock()
			results[id] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	o.logger.Info("parallel processing finished", "tasks", len(results), "succeeded", succeeded, "workers", maxWorkers)
	return results
}

// ProcessPending processes every pending task in parallel.
func (o *Orchestrator) ProcessPending(ctx context.Context, maxWorkers int) (map[int64]bool, error) {
	pending, err := o.store.ListTasksByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.ID)
	}
	return o.ProcessTasksInParallel(ctx, ids, maxWorkers), nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shelfapp/shelf/internal/store"
)

// DeleteTableResult reports one table's outcome within a deletion spec.
type DeleteTableResult struct {
	Table   string
	Status  TableStatus
	Deleted int64
	Err     error
}

// DeleteResult aggregates per-table outcomes for one deletion spec.
type DeleteResult struct {
	Tables map[string]DeleteTableResult
}

// Err returns an error joining all per-table failures, or nil.
func (r *DeleteResult) Err() error {
	var errs []error
	for _, tr := range r.Tables {
		if tr.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("table %s: %w", tr.Table, tr.Err))
		}
	}
	return errors.Join(errs...)
}

// Delete applies a deletion spec table by table.
//
// Unregistered tables are skipped and counted, same as Apply. A failure on
// one table never blocks the others. Deleting ids that are not present is
// a no-op. No commit events are emitted for deletions; callers that need
// deletion notifications must wrap the engine.
func (e *Engine) Delete(ctx context.Context, spec DeletionSpec) (*DeleteResult, error) {
	res := &DeleteResult{Tables: make(map[string]DeleteTableResult, len(spec))}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for name, ids := range spec {
		g.Go(func() error {
			tr := e.deleteTable(ctx, name, ids)

			mu.Lock()
			res.Tables[name] = tr
			mu.Unlock()

			if tr.Err != nil && errors.Is(tr.Err, context.Canceled) {
				return tr.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) deleteTable(ctx context.Context, name string, ids []string) DeleteTableResult {
	tr := DeleteTableResult{Table: name}

	if _, ok := e.reg.Table(name); !ok {
		tr.Status = StatusSkipped
		e.logger.Printf("Skipping unknown table %q (%d ids)", name, len(ids))
		return tr
	}

	lock := e.locks[name]
	lock.Lock()
	defer lock.Unlock()

	deleted, err := e.store.DeleteMany(ctx, name, store.SortedIDs(ids))
	if err != nil {
		tr.Status = StatusFailed
		tr.Err = fmt.Errorf("delete failed: %w", err)
		return tr
	}

	tr.Status = StatusApplied
	tr.Deleted = deleted
	e.logger.Printf("Deleted from table %s: requested=%d removed=%d", name, len(ids), deleted)
	return tr
}

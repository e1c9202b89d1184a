// Package engine implements the entity synchronization engine.
//
// The engine reconciles caller-supplied batches of partial records against
// the store: per table it loads the existing rows, asks the comparator
// which incoming records actually changed, merges those onto the stored
// shape, persists only the changed or new rows in one transaction, and
// publishes a commit event once the write is durable.
//
// Tables are independent. Batches touching different tables run
// concurrently; work on a single table is serialized behind a per-table
// lock so interleaved fetch/merge/write cycles cannot lose updates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shelfapp/shelf/internal/notify"
	"github.com/shelfapp/shelf/internal/schema"
	"github.com/shelfapp/shelf/internal/store"
)

// Batch maps table name -> entity id -> partial record. It is consumed
// once; the engine never mutates the caller's records.
type Batch map[string]map[string]schema.Record

// DeletionSpec maps table name -> ids to remove.
type DeletionSpec map[string][]string

// Notifier is the engine's outbound capability: publish a commit event
// after a durable write. The engine has no dependency on what consumes
// the events.
type Notifier interface {
	Publish(ev notify.CommitEvent)
}

// TableStatus describes the outcome of one table's portion of a batch.
type TableStatus int

const (
	// StatusApplied means the table's records were reconciled (possibly
	// with zero writes).
	StatusApplied TableStatus = iota
	// StatusSkipped means the table is not registered and was passed over.
	StatusSkipped
	// StatusFailed means the table's write failed; sibling tables are
	// unaffected.
	StatusFailed
)

// String returns a human-readable status.
func (s TableStatus) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TableResult reports one table's outcome within a sync batch.
type TableResult struct {
	Table     string
	Status    TableStatus
	Processed int
	Upserted  int
	UpToDate  int
	Err       error
}

// SyncResult aggregates per-table outcomes for one batch application.
type SyncResult struct {
	Tables map[string]TableResult
}

// Failed returns the results of tables whose writes failed.
func (r *SyncResult) Failed() []TableResult {
	var out []TableResult
	for _, tr := range r.Tables {
		if tr.Status == StatusFailed {
			out = append(out, tr)
		}
	}
	return out
}

// Err returns an error joining all per-table failures, or nil if every
// table applied or was skipped.
func (r *SyncResult) Err() error {
	var errs []error
	for _, tr := range r.Failed() {
		errs = append(errs, fmt.Errorf("table %s: %w", tr.Table, tr.Err))
	}
	return errors.Join(errs...)
}

// Engine orchestrates load-compare-merge-persist cycles against the store.
type Engine struct {
	store    *store.Store
	reg      *schema.Registry
	notifier Notifier
	logger   *log.Logger

	// one lock per registered table; the registry is static so the map
	// is never written after construction
	locks map[string]*sync.Mutex
}

// New creates an engine over the given store and registry.
//
// notifier may be nil, in which case commit events are discarded.
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, reg *schema.Registry, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	locks := make(map[string]*sync.Mutex, len(reg.Names()))
	for _, name := range reg.Names() {
		locks[name] = &sync.Mutex{}
	}
	return &Engine{
		store:    st,
		reg:      reg,
		notifier: notifier,
		logger:   logger,
		locks:    locks,
	}
}

// Apply reconciles a synchronization batch against the store.
//
// Each table is processed in isolation and tables run concurrently. A
// failure in one table is recorded in the result and never aborts its
// siblings; tables already committed stay committed. Apply returns a
// non-nil error only when ctx is cancelled, in which case the partial
// result describes the tables that completed before the cancellation.
//
// Applying the same batch twice is safe: the second application performs
// zero writes and emits no commit events.
func (e *Engine) Apply(ctx context.Context, batch Batch) (*SyncResult, error) {
	res := &SyncResult{Tables: make(map[string]TableResult, len(batch))}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for name, records := range batch {
		g.Go(func() error {
			tr := e.applyTable(ctx, name, records)

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

// applyTable runs steps load -> compare -> merge -> persist -> notify for
// one table under its lock.
func (e *Engine) applyTable(ctx context.Context, name string, incoming map[string]schema.Record) TableResult {
	tr := TableResult{Table: name}

	tbl, ok := e.reg.Table(name)
	if !ok {
		tr.Status = StatusSkipped
		e.logger.Printf("Skipping unknown table %q (%d records)", name, len(incoming))
		return tr
	}

	lock := e.locks[name]
	lock.Lock()
	defer lock.Unlock()

	ids := make([]string, 0, len(incoming))
	for id := range incoming {
		ids = append(ids, id)
	}
	ids = store.SortedIDs(ids)

	existing, err := e.store.FetchByIDs(ctx, name, ids)
	if err != nil {
		tr.Status = StatusFailed
		tr.Err = fmt.Errorf("fetch failed: %w", err)
		return tr
	}

	var queue []schema.Record
	var queuedIDs []string
	for _, id := range ids {
		tr.Processed++
		inc := incoming[id]

		prev, found := existing[id]
		if found && upToDate(prev, inc, tbl) {
			tr.UpToDate++
			continue
		}

		base := prev
		if !found {
			base = tbl.NewRecord(id)
		}
		merged, err := mergeRecord(base, inc, tbl)
		if err != nil {
			tr.Status = StatusFailed
			tr.Err = fmt.Errorf("record %s: %w", id, err)
			return tr
		}
		queue = append(queue, merged)
		queuedIDs = append(queuedIDs, id)
	}

	if len(queue) > 0 {
		if err := e.store.UpsertMany(ctx, name, queue); err != nil {
			tr.Status = StatusFailed
			tr.Err = fmt.Errorf("upsert failed: %w", err)
			return tr
		}
		tr.Upserted = len(queue)

		// publish strictly after the transaction committed
		if e.notifier != nil {
			e.notifier.Publish(notify.CommitEvent{Table: name, UpdatedIDs: queuedIDs})
		}
	}

	tr.Status = StatusApplied
	e.logger.Printf("Synced table %s: processed=%d upserted=%d up-to-date=%d",
		name, tr.Processed, tr.Upserted, tr.UpToDate)
	return tr
}

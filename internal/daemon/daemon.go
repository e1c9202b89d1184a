// Package daemon runs the spool watcher that feeds the sync engine.
//
// The remote-fetch pipeline drops payload files into a spool directory:
// *.batch.json files carry synchronization batches, *.delete.json files
// carry deletion specs. The daemon:
//
//  1. Applies any payloads already in the spool on startup
//  2. Watches the spool for new files
//  3. Applies each payload with debouncing (writers may touch a file
//     several times before it is complete)
//  4. Removes applied payloads; failed ones are renamed *.failed and left
//     for inspection
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/shelfapp/shelf/internal/engine"
	"github.com/shelfapp/shelf/internal/schema"
)

const (
	batchSuffix  = ".batch.json"
	deleteSuffix = ".delete.json"
	failedSuffix = ".failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a spool file must sit unchanged before
	// it is applied. This batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the spool directory and applies payloads to the engine.
type Daemon struct {
	eng      *engine.Engine
	reg      *schema.Registry
	spoolDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon over the given engine and spool directory.
func New(eng *engine.Engine, reg *schema.Registry, spoolDir string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		eng:         eng,
		reg:         reg,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start drains the spool, begins watching it, and blocks until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting spool daemon")

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	// Apply payloads that arrived while we were down
	if err := d.DrainSpool(ctx); err != nil {
		return fmt.Errorf("initial spool drain failed: %w", err)
	}

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching spool: %s", d.spoolDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping spool daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Spool daemon stopped")
	return nil
}

// DrainSpool applies every payload currently in the spool directory, in
// name order. Individual payload failures are logged and the file is set
// aside; draining continues with the rest.
func (d *Daemon) DrainSpool(ctx context.Context) error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isPayload(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(d.spoolDir, entry.Name()))
	}
	sort.Strings(paths)

	for _, path := range paths {
		d.applyPayload(ctx, path)
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues payload changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only Create and Write matter; removals are our own cleanup
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isPayload(filepath.Base(event.Name)) {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a payload file event for debounced processing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue applies queued payloads once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges applies files whose last event is older than the
// debounce interval.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.applyPayload(d.ctx, path)
	}
}

// applyPayload decodes and applies one spool file, then removes it on
// success or renames it *.failed on failure.
func (d *Daemon) applyPayload(ctx context.Context, path string) {
	// The file may already be gone (processed by an earlier pass)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}

	runID := uuid.NewString()[:8]
	name := filepath.Base(path)

	if err != nil {
		d.config.Logger.Printf("[%s] Failed to read payload %s: %v", runID, name, err)
		d.setAside(path, runID)
		return
	}

	switch {
	case strings.HasSuffix(name, batchSuffix):
		err = d.applyBatch(ctx, runID, name, data)
	case strings.HasSuffix(name, deleteSuffix):
		err = d.applyDeletion(ctx, runID, name, data)
	default:
		return
	}

	if err != nil {
		d.config.Logger.Printf("[%s] Payload %s failed: %v", runID, name, err)
		d.setAside(path, runID)
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.config.Logger.Printf("[%s] Failed to remove applied payload %s: %v", runID, name, err)
	}
}

func (d *Daemon) applyBatch(ctx context.Context, runID, name string, data []byte) error {
	batch, err := DecodeBatch(d.reg, data)
	if err != nil {
		return err
	}

	res, err := d.eng.Apply(ctx, batch)
	if err != nil {
		return err
	}
	for _, tr := range res.Tables {
		d.config.Logger.Printf("[%s] %s table %s: %s (processed=%d upserted=%d up-to-date=%d)",
			runID, name, tr.Table, tr.Status, tr.Processed, tr.Upserted, tr.UpToDate)
	}
	return res.Err()
}

func (d *Daemon) applyDeletion(ctx context.Context, runID, name string, data []byte) error {
	spec, err := DecodeDeletionSpec(data)
	if err != nil {
		return err
	}

	res, err := d.eng.Delete(ctx, spec)
	if err != nil {
		return err
	}
	for _, tr := range res.Tables {
		d.config.Logger.Printf("[%s] %s table %s: %s (removed=%d)",
			runID, name, tr.Table, tr.Status, tr.Deleted)
	}
	return res.Err()
}

// setAside renames a failed payload out of the active suffix space so it
// is not reprocessed, preserving it for inspection.
func (d *Daemon) setAside(path, runID string) {
	failed := path + failedSuffix
	if err := os.Rename(path, failed); err != nil {
		d.config.Logger.Printf("[%s] Failed to set aside payload %s: %v", runID, filepath.Base(path), err)
		return
	}
	d.config.Logger.Printf("[%s] Payload set aside: %s", runID, filepath.Base(failed))
}

// isPayload reports whether a spool file name is an applicable payload.
func isPayload(name string) bool {
	if strings.HasSuffix(name, failedSuffix) {
		return false
	}
	return strings.HasSuffix(name, batchSuffix) || strings.HasSuffix(name, deleteSuffix)
}

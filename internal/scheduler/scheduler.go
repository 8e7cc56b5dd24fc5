// Package scheduler batches keys and processes them after a quiet period.
// The engine uses it to coalesce bursts of document edits into a single
// reindex and snapshot save.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/noteai-go/internal/logging"
)

// Func processes one batch of keys.
type Func func(ctx context.Context, keys []string) error

// Debouncer collects keys and runs Func once no new key has arrived for the
// configured delay. Batches never overlap. Safe for concurrent use.
type Debouncer struct {
	// mu guards pending, timer and closed.
	mu sync.Mutex
	// pending is the set of keys waiting for the next batch.
	pending map[string]struct{}
	// timer fires the next batch; nil when nothing is pending.
	timer *time.Timer
	// closed rejects new keys after Stop.
	closed bool

	// running serialises batch execution.
	running sync.Mutex

	delay time.Duration
	run   Func
	log   *slog.Logger
}

// New returns a Debouncer that calls run delay after the last Schedule.
func New(delay time.Duration, run Func, log *slog.Logger) *Debouncer {
	if log == nil {
		log = slog.Default()
	}
	return &Debouncer{
		pending: make(map[string]struct{}),
		delay:   delay,
		run:     run,
		log:     log,
	}
}

// Schedule adds keys to the pending set and restarts the quiet period.
// Keys scheduled after Stop are dropped.
func (d *Debouncer) Schedule(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(keys) == 0 {
		return
	}
	for _, k := range keys {
		d.pending[k] = struct{}{}
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Pending returns the keys waiting for the next batch, sorted.
func (d *Debouncer) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.pending)
}

// Flush runs the pending batch now, without waiting for the quiet period.
func (d *Debouncer) Flush(ctx context.Context) error {
	return d.drain(ctx)
}

// Stop flushes the pending batch and rejects further keys.
func (d *Debouncer) Stop(ctx context.Context) error {
	err := d.drain(ctx)
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	return err
}

func (d *Debouncer) fire() {
	ctx := logging.WithLogger(context.Background(), d.log)
	if err := d.drain(ctx); err != nil {
		d.log.Warn("scheduler: batch failed", slog.Any("error", err))
	}
}

func (d *Debouncer) drain(ctx context.Context) error {
	d.running.Lock()
	defer d.running.Unlock()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	keys := sortedKeys(d.pending)
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	return d.run(ctx, keys)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package backup implements the Structural Backup layer: a background
// worker that walks Live Content associations, writes
// compressed snapshot rows to Postgres, and is scheduled by a cron
// expression the way the owning repository schedules its own maintenance
// jobs.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/blake2b"

	"github.com/ucgraph/core/internal/ucg"
	"github.com/ucgraph/core/pkg/logging"
	"github.com/ucgraph/core/pkg/metrics"
	"github.com/ucgraph/core/pkg/retry"
)

// MaxQueueDepth bounds the resync job queue; overflow drops the oldest job
// and emits a warning (§4.4.4 SB failure semantics).
const MaxQueueDepth = 10000

// Worker is the SB component: it satisfies ucg.StructuralBackup by queueing
// jobs and periodically draining them into compressed Postgres rows.
type Worker struct {
	db  *sql.DB
	lc  ucg.LiveContent
	log *logging.Logger
	m   *metrics.Metrics

	mu    sync.Mutex
	queue []ucg.ResyncJob

	cron *cron.Cron
}

// New builds a Worker. Call Start to begin the scheduled resync loop.
func New(db *sql.DB, lc ucg.LiveContent, log *logging.Logger, m *metrics.Metrics) *Worker {
	return &Worker{db: db, lc: lc, log: log, m: m, cron: cron.New()}
}

func (w *Worker) EnqueueResync(_ context.Context, job ucg.ResyncJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) >= MaxQueueDepth {
		w.queue = w.queue[1:]
		w.log.Warn("structural backup queue overflow, dropping oldest job")
	}
	w.queue = append(w.queue, job)
	if w.m != nil {
		w.m.SBQueueDepth.Set(float64(len(w.queue)))
	}
	return nil
}

func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) drain() []ucg.ResyncJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	jobs := w.queue
	w.queue = nil
	if w.m != nil {
		w.m.SBQueueDepth.Set(0)
	}
	return jobs
}

// Start schedules the resync loop at the given cron spec (e.g. "@every
// 30s", matching sb_resync_interval) and returns once the scheduler has
// begun running in the background.
func (w *Worker) Start(spec string) error {
	_, err := w.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if err := retry.Do(ctx, retry.DefaultConfig(), func() error { return w.resyncOnce(ctx) }); err != nil {
			w.log.WithError(err).Error("structural backup resync failed after retries")
		}
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

func (w *Worker) Stop() { w.cron.Stop() }

// resyncOnce walks every enqueued job, re-reading from LC the associations
// in which the job's entity is the child and writing them as one
// compressed, checksummed row per job (keyed by the entity ID, whatever the
// job's Kind); running it even with an
// empty queue keeps the schedule idempotent and cheap.
func (w *Worker) resyncOnce(ctx context.Context) error {
	jobs := w.drain()
	if len(jobs) == 0 {
		return nil
	}
	assocs, err := w.lc.AllAssociations(ctx)
	if err != nil {
		return err
	}
	byEntity := map[string][]*ucg.Association{}
	for _, a := range assocs {
		byEntity[a.ChildID] = append(byEntity[a.ChildID], a)
	}
	for _, job := range jobs {
		payload, err := json.Marshal(byEntity[job.EntityID])
		if err != nil {
			return err
		}
		compressed, err := gzipBytes(payload)
		if err != nil {
			return err
		}
		sum, err := checksum(payload)
		if err != nil {
			return err
		}
		if _, err := w.db.ExecContext(ctx, `
			INSERT INTO ucg_structural_backup (id, kind, payload, source_checksum, synced_from_source_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, source_checksum = EXCLUDED.source_checksum, synced_from_source_at = EXCLUDED.synced_from_source_at`,
			job.EntityID, job.Kind, compressed, sum, time.Now().UTC()); err != nil {
			return fmt.Errorf("sb write for %s: %w", job.EntityID, err)
		}
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checksum(data []byte) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

var _ ucg.StructuralBackup = (*Worker)(nil)

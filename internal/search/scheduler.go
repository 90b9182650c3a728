package search

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/ucgraph/core/internal/ucg"
	"github.com/ucgraph/core/pkg/logging"
)

// Scheduler runs Index.OrphanCleanup on a cron schedule. Each tick it
// builds the existence predicate from a fresh LiveContent entity listing
// and takes the word keys from the wordKeys function passed to Start,
// rather than caching either, since the maintenance job is infrequent
// enough that a fresh read is cheap relative to staleness risk. A failed
// tick is logged and not retried until the next scheduled run.
type Scheduler struct {
	ix   *Index
	lc   ucg.LiveContent
	log  *logging.Logger
	cron *cron.Cron
}

func NewScheduler(ix *Index, lc ucg.LiveContent, log *logging.Logger) *Scheduler {
	return &Scheduler{ix: ix, lc: lc, log: log, cron: cron.New()}
}

// Start schedules the orphan-cleanup job at spec (e.g. "@every 1h").
func (s *Scheduler) Start(spec string, wordKeys func() []string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		entities, err := s.lc.AllEntities(ctx)
		if err != nil {
			s.log.WithError(err).Warn("orphan cleanup: could not list entities")
			return
		}
		ids := make(map[string]bool, len(entities))
		for _, e := range entities {
			ids[e.ID] = true
		}
		if err := s.ix.OrphanCleanup(ctx, wordKeys(), func(id string) bool { return ids[id] }); err != nil {
			s.log.WithError(err).Warn("orphan cleanup failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() { s.cron.Stop() }

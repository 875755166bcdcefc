// Package resync runs one full history reconciliation and apply pass.
package resync

import (
	"context"
	"sort"

	"github.com/dotsetgreg/namesync/pkg/apply"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/reconcile"
	"github.com/google/uuid"
)

type Syncer struct {
	rec       *reconcile.Reconciler
	engine    *apply.Engine
	channelID string
}

func NewSyncer(rec *reconcile.Reconciler, engine *apply.Engine, channelID string) *Syncer {
	return &Syncer{
		rec:       rec,
		engine:    engine,
		channelID: channelID,
	}
}

// Run scans count messages of bridge history and applies the
// deduplicated latest change per account. With reset, every mapped
// account without a qualifying event gets its first name instead.
func (s *Syncer) Run(ctx context.Context, count int, reset bool) (apply.Results, error) {
	runID := "resync-" + uuid.NewString()[:8]
	logger.InfoCF("resync", "Resync started", map[string]interface{}{
		"run":   runID,
		"count": count,
		"reset": reset,
	})

	changes, err := s.rec.Scan(ctx, s.channelID, count)
	if err != nil {
		return apply.Results{}, err
	}
	if reset {
		s.rec.ResetFill(changes)
	}

	batch := make([]apply.Change, 0, len(changes))
	for _, change := range changes {
		nickname := change.Nickname
		batch = append(batch, apply.Change{ExternalName: change.ExternalName, Nickname: nickname})
	}
	// Apply order does not affect the final state; sorting just makes
	// runs reproducible.
	sort.Slice(batch, func(i, j int) bool { return batch[i].ExternalName < batch[j].ExternalName })

	results := s.engine.ApplyBatch(ctx, batch)
	logger.InfoCF("resync", "Resync finished", map[string]interface{}{
		"run":     runID,
		"summary": results.String(),
	})
	return results, nil
}

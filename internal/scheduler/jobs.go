package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/driftwatch/internal/database"
	"github.com/aristath/driftwatch/internal/modules/drift"
	"github.com/aristath/driftwatch/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// DriftRefreshJob periodically re-runs the drift coordinator so the
// dashboard and snapshot history stay current between user visits.
type DriftRefreshJob struct {
	coordinator *drift.Coordinator
	log         zerolog.Logger
}

// NewDriftRefreshJob creates a new drift refresh job
func NewDriftRefreshJob(coordinator *drift.Coordinator, log zerolog.Logger) *DriftRefreshJob {
	return &DriftRefreshJob{
		coordinator: coordinator,
		log:         log.With().Str("job", "drift_refresh").Logger(),
	}
}

// Name returns the job name
func (j *DriftRefreshJob) Name() string { return "drift_refresh" }

// Run refreshes the drift coordinator. Setup-required is an expected
// state, not a job failure.
func (j *DriftRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := j.coordinator.Refresh(ctx)

	var setupErr *drift.SetupRequiredError
	if errors.As(err, &setupErr) {
		j.log.Debug().Msg("Targets not configured yet, skipping refresh cycle")
		return nil
	}

	return err
}

// SnapshotCleanupJob prunes drift snapshots past the retention window
// and checkpoints the WAL so the deleted pages are reclaimed.
type SnapshotCleanupJob struct {
	repo      *snapshots.Repository
	db        *database.DB
	retention time.Duration
	log       zerolog.Logger
}

// NewSnapshotCleanupJob creates a new snapshot cleanup job. db may be
// nil, in which case the WAL checkpoint is skipped.
func NewSnapshotCleanupJob(repo *snapshots.Repository, db *database.DB, retention time.Duration, log zerolog.Logger) *SnapshotCleanupJob {
	return &SnapshotCleanupJob{
		repo:      repo,
		db:        db,
		retention: retention,
		log:       log.With().Str("job", "snapshot_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *SnapshotCleanupJob) Name() string { return "snapshot_cleanup" }

// Run deletes expired snapshot rows
func (j *SnapshotCleanupJob) Run() error {
	removed, err := j.repo.Prune(j.retention)
	if err != nil {
		return err
	}

	if j.db != nil {
		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Msg("WAL checkpoint after cleanup failed")
		}
	}

	j.log.Debug().Int64("removed", removed).Msg("Snapshot cleanup completed")
	return nil
}

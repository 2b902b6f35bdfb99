// Package snapshots persists per-bucket drift totals locally so the
// dashboard can show drift trends over time. The alert rule cache is
// never persisted; snapshot rows are derived analytics only.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/driftwatch/internal/database"
	"github.com/rs/zerolog"
)

// Snapshot is one recorded drift measurement for a bucket.
type Snapshot struct {
	ID               int64     `json:"id"`
	Bucket           string    `json:"bucket"`
	PortfolioID      string    `json:"portfolio_id"`
	TotalAbsolute    float64   `json:"total_absolute_drift"`
	WeightedRelative float64   `json:"weighted_relative_drift"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Repository handles drift snapshot database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository and ensures the
// schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

// migrate applies the schema atomically so a partial failure never
// leaves the table without its index.
func (r *Repository) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drift_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket TEXT NOT NULL,
			portfolio_id TEXT NOT NULL DEFAULT '',
			total_absolute_drift REAL NOT NULL,
			weighted_relative_drift REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drift_snapshots_bucket_time
			ON drift_snapshots(bucket, recorded_at)`,
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create drift_snapshots schema: %w", err)
	}
	return nil
}

// Record inserts one snapshot row. Satisfies drift.SnapshotRecorder.
func (r *Repository) Record(bucket, portfolioID string, totalAbsolute, weightedRelative float64, at time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO drift_snapshots
			(bucket, portfolio_id, total_absolute_drift, weighted_relative_drift, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		bucket, portfolioID, totalAbsolute, weightedRelative, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert drift snapshot: %w", err)
	}
	return nil
}

// GetSeries returns snapshots for a bucket since the given time,
// oldest first, capped at limit rows (0 = no cap).
func (r *Repository) GetSeries(bucket string, since time.Time, limit int) ([]Snapshot, error) {
	query := `
		SELECT id, bucket, portfolio_id, total_absolute_drift, weighted_relative_drift, recorded_at
		FROM drift_snapshots
		WHERE bucket = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC
	`
	args := []interface{}{bucket, since.Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query drift snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var s Snapshot
		var recordedUnix int64
		if err := rows.Scan(&s.ID, &s.Bucket, &s.PortfolioID, &s.TotalAbsolute, &s.WeightedRelative, &recordedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan drift snapshot: %w", err)
		}
		s.RecordedAt = time.Unix(recordedUnix, 0).UTC()
		snaps = append(snaps, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift snapshots: %w", err)
	}

	return snaps, nil
}

// Latest returns the most recent snapshot per bucket.
func (r *Repository) Latest() (map[string]Snapshot, error) {
	query := `
		SELECT s.id, s.bucket, s.portfolio_id, s.total_absolute_drift, s.weighted_relative_drift, s.recorded_at
		FROM drift_snapshots s
		INNER JOIN (
			SELECT bucket, MAX(recorded_at) AS max_time
			FROM drift_snapshots
			GROUP BY bucket
		) m ON s.bucket = m.bucket AND s.recorded_at = m.max_time
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Snapshot)
	for rows.Next() {
		var s Snapshot
		var recordedUnix int64
		if err := rows.Scan(&s.ID, &s.Bucket, &s.PortfolioID, &s.TotalAbsolute, &s.WeightedRelative, &recordedUnix); err != nil {
			return nil, fmt.Errorf("failed to scan latest snapshot: %w", err)
		}
		s.RecordedAt = time.Unix(recordedUnix, 0).UTC()
		result[s.Bucket] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest snapshots: %w", err)
	}

	return result, nil
}

// Prune deletes snapshots older than the retention window and returns
// how many rows were removed.
func (r *Repository) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	res, err := r.db.Exec("DELETE FROM drift_snapshots WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune drift snapshots: %w", err)
	}

	removed, _ := res.RowsAffected()
	if removed > 0 {
		r.log.Info().Int64("removed", removed).Msg("Pruned old drift snapshots")
	}
	return removed, nil
}

package snapshots

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupRepo(t *testing.T) *Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func TestRepository_RecordAndGetSeries(t *testing.T) {
	repo := setupRepo(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record("sector", "p1", 9.7, 12.4, base))
	require.NoError(t, repo.Record("sector", "p1", 10.2, 13.1, base.Add(time.Hour)))
	require.NoError(t, repo.Record("overall", "p1", 4.1, 5.0, base))

	series, err := repo.GetSeries("sector", base.Add(-time.Minute), 0)
	require.NoError(t, err)

	require.Len(t, series, 2)
	// Oldest first
	assert.Equal(t, 9.7, series[0].TotalAbsolute)
	assert.Equal(t, 10.2, series[1].TotalAbsolute)
	assert.Equal(t, base, series[0].RecordedAt)
	assert.Equal(t, "p1", series[0].PortfolioID)
}

func TestRepository_GetSeriesRespectsSince(t *testing.T) {
	repo := setupRepo(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record("sector", "p1", 1, 1, base))
	require.NoError(t, repo.Record("sector", "p1", 2, 2, base.Add(24*time.Hour)))

	series, err := repo.GetSeries("sector", base.Add(time.Hour), 0)
	require.NoError(t, err)

	require.Len(t, series, 1)
	assert.Equal(t, 2.0, series[0].TotalAbsolute)
}

func TestRepository_GetSeriesLimit(t *testing.T) {
	repo := setupRepo(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record("sector", "p1", float64(i), 0, base.Add(time.Duration(i)*time.Hour)))
	}

	series, err := repo.GetSeries("sector", base, 3)
	require.NoError(t, err)
	assert.Len(t, series, 3)
}

func TestRepository_GetSeriesEmpty(t *testing.T) {
	repo := setupRepo(t)

	series, err := repo.GetSeries("sector", time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestRepository_Latest(t *testing.T) {
	repo := setupRepo(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Record("sector", "p1", 1, 1, base))
	require.NoError(t, repo.Record("sector", "p1", 2, 2, base.Add(time.Hour)))
	require.NoError(t, repo.Record("overall", "p1", 3, 3, base))

	latest, err := repo.Latest()
	require.NoError(t, err)

	require.Len(t, latest, 2)
	assert.Equal(t, 2.0, latest["sector"].TotalAbsolute)
	assert.Equal(t, 3.0, latest["overall"].TotalAbsolute)
}

func TestRepository_Prune(t *testing.T) {
	repo := setupRepo(t)

	now := time.Now().UTC()
	require.NoError(t, repo.Record("sector", "p1", 1, 1, now.Add(-40*24*time.Hour)))
	require.NoError(t, repo.Record("sector", "p1", 2, 2, now.Add(-10*24*time.Hour)))
	require.NoError(t, repo.Record("sector", "p1", 3, 3, now))

	removed, err := repo.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	series, err := repo.GetSeries("sector", now.Add(-365*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestRepository_PruneNothingToRemove(t *testing.T) {
	repo := setupRepo(t)

	require.NoError(t, repo.Record("sector", "p1", 1, 1, time.Now()))

	removed, err := repo.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

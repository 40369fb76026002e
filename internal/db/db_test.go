package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/potree-clip/internal/filter"
	"github.com/banshee-data/potree-clip/internal/jobs"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout, synchronous, tempStore int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, synchronous, "NORMAL")
	assert.Equal(t, 2, tempStore, "MEMORY")
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSaveJobRoundTrip(t *testing.T) {
	db := newTestDB(t)
	started := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	st := jobs.Status{
		ID:        "job-1",
		Kind:      jobs.KindFilter,
		State:     jobs.StateActive,
		Started:   started,
		OutputDir: "/out/job-1",
		Progress:  &filter.Progress{Nodes: 1, Points: 10, Accepted: 4, Discarded: 6},
	}
	require.NoError(t, db.SaveJob(st))

	rec, err := db.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", rec.Status)
	assert.True(t, rec.Started.Equal(started))
	assert.True(t, rec.Finished.IsZero())
	assert.Equal(t, int64(4), rec.AcceptedPoints)
	assert.Equal(t, "/out/job-1", rec.OutputDir)

	finished := started.Add(90 * time.Second)
	st.State = jobs.StateFailed
	st.Finished = &finished
	st.Message = "boom"
	st.Progress = &filter.Progress{Nodes: 3, Points: 30, Accepted: 12, Discarded: 18}
	require.NoError(t, db.SaveJob(st))

	rec, err = db.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobRecord{
		ID:              "job-1",
		Kind:            jobs.KindFilter,
		Status:          "FAILED",
		Started:         started,
		Finished:        finished,
		Message:         "boom",
		OutputDir:       "/out/job-1",
		ProcessedNodes:  3,
		ProcessedPoints: 30,
		AcceptedPoints:  12,
		DiscardedPoints: 18,
	}, *rec)

	_, err = db.GetJob("missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestRecentJobs(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.SaveJob(jobs.Status{
			ID:      id,
			Kind:    jobs.KindExtractRegion,
			State:   jobs.StateFinished,
			Started: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := db.RecentJobs(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/", "/debug/tailsql/", "/debug/backup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// The debugger may refuse non-local callers; it must not be missing.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SaveJob(jobs.Status{ID: "x", Kind: jobs.KindFilter, State: jobs.StateFinished}))

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}

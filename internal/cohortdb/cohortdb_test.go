package cohortdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/timeutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cohort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(timeutil.NewMockClock(started))

	runID, err := db.StartRun("/data/cohort", "*results.npz")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	var startedAt int64
	require.NoError(t, db.QueryRow(`SELECT started_at FROM runs WHERE run_id = ?`, runID).Scan(&startedAt))
	require.Equal(t, started.UnixNano(), startedAt)

	id := metadata.FovID{Mouse: "147", Fov: 3, Condition: "HYPER", Day: 14}
	require.NoError(t, db.RecordFov(runID, id.String(), id, 12, 3000, FovStatusDone, "/out/147.caarr"))
	require.NoError(t, db.RecordError(runID, "514_FOV_1_HYPO_DAY_0", "missing_input", "no companion analog file"))
	require.NoError(t, db.FinishRun(runID, 2, 1))

	var fovName string
	require.NoError(t, db.QueryRow(`SELECT fov FROM fovs WHERE run_id = ?`, runID).Scan(&fovName))
	require.Equal(t, "147_FOV_3_HYPER_DAY_14", fovName)

	// A FOV that failed before its identity resolved keeps the results-file
	// basename instead of the zero identity string.
	require.NoError(t, db.RecordFov(runID, "mouse9_results.npz", metadata.FovID{}, 0, 0, FovStatusFailed, ""))
	require.NoError(t, db.QueryRow(`SELECT fov FROM fovs WHERE run_id = ? AND status = ?`, runID, string(FovStatusFailed)).Scan(&fovName))
	require.Equal(t, "mouse9_results.npz", fovName)

	errs, err := db.ListErrors(runID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "missing_input", errs[0].Kind)
	require.Equal(t, "514_FOV_1_HYPO_DAY_0", errs[0].Fov)
}

func TestEpochStatsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	runID, err := db.StartRun("/data", "*.npz")
	require.NoError(t, err)

	rows := []dffstats.CellSummary{
		{Cell: 0, Spikes: 3, AUC: 1.25, RatePerSec: 0.4},
		{Cell: 1, Spikes: 0, AUC: 0.1, RatePerSec: 0},
	}
	require.NoError(t, db.InsertEpochStats(runID, "147_FOV_3_HYPER_DAY_14", "run_stim", rows))
	require.NoError(t, db.InsertEpochStats(runID, "147_FOV_3_HYPER_DAY_14", "stand_spont", rows[:1]))

	got, err := db.ListEpochStats(runID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "run_stim", got[0].Epoch)
	require.Equal(t, 3, got[0].Spikes)
	require.InDelta(t, 1.25, got[0].AUC, 1e-12)
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cohort.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening applies no further changes and must not fail.
	db2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/posthoc"
)

// testCohort builds a 2-cell, 40-frame FOV split between stand_spont
// ([0,20)) and run_stim ([20,40)), with one clear transient per cell in
// each half.
func testCohort(t *testing.T) *align.Cohort {
	t.Helper()

	const frames = 40
	data := make([][]float64, 2)
	for c := range data {
		data[c] = make([]float64, frames)
		for f := range data[c] {
			data[c][f] = 0.02 * float64(c+1)
		}
		data[c][5] = 1.0
		data[c][30] = 0.8
	}

	epochs := make([]analog.Epoch, frames)
	for f := 20; f < frames; f++ {
		epochs[f] = analog.RunStim
	}

	ts := make([]float64, frames)
	for f := range ts {
		ts[f] = float64(f) / 10
	}

	arr, err := align.New(data, epochs, nil, align.Meta{
		ID:         metadata.FovID{Mouse: "147", Fov: 1, Condition: "HYPER", Day: 7},
		FPS:        10,
		StimWindow: 1.5,
		Timestamps: ts,
	})
	require.NoError(t, err)

	cohort, err := align.Concat([]*align.Array{arr})
	require.NoError(t, err)
	return cohort
}

func TestBuildEpochStats(t *testing.T) {
	stats := BuildEpochStats(testCohort(t), dffstats.DefaultSpikeOptions())

	// 2 cells x 2 populated epochs; the other four epochs have no frames.
	require.Len(t, stats, 4)
	for _, s := range stats {
		require.Contains(t, []analog.Epoch{analog.StandSpont, analog.RunStim}, s.Epoch)
		require.Equal(t, 1, s.Spikes, "one transient per cell per half")
		require.Greater(t, s.AUC, 0.0)
		require.Greater(t, s.RatePerSec, 0.0)
	}
}

func TestCompareExcludesInvalidCells(t *testing.T) {
	cohort := testCohort(t)
	stats := BuildEpochStats(cohort, dffstats.DefaultSpikeOptions())

	full := Compare(stats, MetricAUC, nil)
	require.Len(t, full.Pairs, 1)

	// Dropping cell 1 leaves single-value groups, which degrade to
	// warnings instead of pairs.
	reduced := Compare(stats, MetricAUC, InvalidCellSet(cohort, []int{1}))
	require.Empty(t, reduced.Pairs)
	require.NotEmpty(t, reduced.Warnings)
}

func TestInvalidCellRowsResolvePerFov(t *testing.T) {
	// Two FOVs both carrying a local cell 0: row 2 of the concatenated
	// cohort must name only the second FOV's cell.
	frames := 10
	epochs := make([]analog.Epoch, frames)
	ts := make([]float64, frames)
	mkArr := func(id metadata.FovID, cells int) *align.Array {
		data := make([][]float64, cells)
		for c := range data {
			data[c] = make([]float64, frames)
		}
		arr, err := align.New(data, epochs, nil, align.Meta{ID: id, FPS: 10, Timestamps: ts})
		require.NoError(t, err)
		return arr
	}

	idA := metadata.FovID{Mouse: "147", Fov: 1, Condition: "HYPER", Day: 7}
	idB := metadata.FovID{Mouse: "514", Fov: 1, Condition: "HYPO", Day: 7}
	cohort, err := align.Concat([]*align.Array{mkArr(idA, 2), mkArr(idB, 2)})
	require.NoError(t, err)

	set := InvalidCellSet(cohort, []int{2, 99})
	require.True(t, set[align.CellRef{ID: idB, Cell: 0}])
	require.False(t, set[align.CellRef{ID: idA, Cell: 0}])
	require.Len(t, set, 1, "out-of-range rows are ignored")
}

func TestWriteStatsCSV(t *testing.T) {
	stats := BuildEpochStats(testCohort(t), dffstats.DefaultSpikeOptions())

	var buf bytes.Buffer
	require.NoError(t, WriteStatsCSV(&buf, stats))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5) // header + 4 rows
	require.Equal(t, "mouse,fov,condition,day,cell,epoch,spikes,auc,rate_per_sec", lines[0])
	require.Contains(t, buf.String(), "147,1,HYPER,7,0,stand_spont")
	require.Contains(t, buf.String(), "run_stim")
}

func TestWriteComparisonsCSV(t *testing.T) {
	cmps := map[Metric]*posthoc.Comparison{
		MetricAUC: {Pairs: []posthoc.Pair{{A: "stand_spont", B: "run_stim", MeanDiff: 0.5, Q: 3.2, P: 0.04}}},
		MetricRate: {
			Warnings: []string{"epoch run_juxta has fewer than 2 cells"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteComparisonsCSV(&buf, cmps))

	out := buf.String()
	require.Contains(t, out, "metric,epoch_a,epoch_b,mean_diff,q,p")
	require.Contains(t, out, "auc,stand_spont,run_stim,0.5,3.2,0.04")
	require.Contains(t, out, "warning: epoch run_juxta has fewer than 2 cells")
}

func TestCohortHTML(t *testing.T) {
	cohort := testCohort(t)
	stats := BuildEpochStats(cohort, dffstats.DefaultSpikeOptions())
	cmps := map[Metric]*posthoc.Comparison{
		MetricAUC: Compare(stats, MetricAUC, nil),
	}

	var buf bytes.Buffer
	require.NoError(t, CohortHTML(&buf, cohort, stats, cmps, dffstats.DefaultSpikeOptions()))

	out := buf.String()
	require.Contains(t, out, "stand_spont")
	require.Contains(t, out, "run_stim")
	require.Contains(t, out, "population spike rate")
	require.Contains(t, out, "Tukey HSD")
	require.Contains(t, out, "</html>")
}

func TestCohortHTMLEmptyStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CohortHTML(&buf, nil, nil, nil, dffstats.DefaultSpikeOptions()))
	require.Contains(t, buf.String(), "</html>")
}

func TestFovFigure(t *testing.T) {
	cohort := testCohort(t)
	path := filepath.Join(t.TempDir(), "fov.png")

	require.NoError(t, FovFigure(cohort.Fovs[0], dffstats.DefaultSpikeOptions(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestFovFigureNoCells(t *testing.T) {
	arr, err := align.New(nil, make([]analog.Epoch, 10), nil, align.Meta{FPS: 10})
	require.NoError(t, err)
	err = FovFigure(arr, dffstats.DefaultSpikeOptions(), filepath.Join(t.TempDir(), "x.png"))
	require.Error(t, err)
}

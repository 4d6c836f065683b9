package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/posthoc"
)

// Occlusion phase names, the three groups of the occlusion comparison.
const (
	PhaseBefore = "before"
	PhaseDuring = "during"
	PhaseAfter  = "after"
)

// OcclusionWindow is the [Start, End) frame span the occluder was active.
type OcclusionWindow struct {
	Start, End int
}

// occlusionWindow derives the window for one FOV. Recordings that carry
// per-frame occlusion flags define it directly; older recordings without an
// occluder channel fall back to the configured frame counts.
func occlusionWindow(arr *align.Array, framesBefore, epochLen int) OcclusionWindow {
	if arr.Occluded != nil {
		start, end := -1, -1
		for f, o := range arr.Occluded {
			if o {
				if start < 0 {
					start = f
				}
				end = f + 1
			}
		}
		if start >= 0 {
			return OcclusionWindow{Start: start, End: end}
		}
	}

	w := OcclusionWindow{Start: framesBefore, End: framesBefore + epochLen}
	if w.Start > arr.Frames {
		w.Start = arr.Frames
	}
	if w.End > arr.Frames {
		w.End = arr.Frames
	}
	return w
}

// OcclusionStat is one cell's spike count split by occlusion phase.
type OcclusionStat struct {
	Ref    align.CellRef
	Before int
	During int
	After  int
}

// BuildOcclusionStats counts every cohort cell's spikes before, during and
// after the occlusion window of its FOV.
func BuildOcclusionStats(c *align.Cohort, spikeOpts dffstats.SpikeOptions, framesBefore, epochLen int) []OcclusionStat {
	var out []OcclusionStat
	for _, arr := range c.Fovs {
		win := occlusionWindow(arr, framesBefore, epochLen)
		for cell := 0; cell < arr.Cells; cell++ {
			st := OcclusionStat{Ref: align.CellRef{ID: arr.Meta.ID, Cell: cell}}
			for _, f := range dffstats.DetectSpikes(fullTrace(arr, cell), spikeOpts) {
				switch {
				case f < win.Start:
					st.Before++
				case f < win.End:
					st.During++
				default:
					st.After++
				}
			}
			out = append(out, st)
		}
	}
	return out
}

// CompareOcclusion runs the pairwise phase comparison over per-cell spike
// counts. Cells in skip are excluded, matching the epoch comparisons.
func CompareOcclusion(stats []OcclusionStat, skip map[align.CellRef]bool) *posthoc.Comparison {
	var before, during, after []float64
	for _, s := range stats {
		if skip[s.Ref] {
			continue
		}
		before = append(before, float64(s.Before))
		during = append(during, float64(s.During))
		after = append(after, float64(s.After))
	}
	if len(before) == 0 {
		return posthoc.TukeyHSD(nil)
	}
	return posthoc.TukeyHSD([]posthoc.Group{
		{Name: PhaseBefore, Values: before},
		{Name: PhaseDuring, Values: during},
		{Name: PhaseAfter, Values: after},
	})
}

// WriteOcclusionCSV writes the per-cell phase spike counts.
func WriteOcclusionCSV(w io.Writer, stats []OcclusionStat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"mouse", "fov", "condition", "day", "cell", "before", "during", "after"}); err != nil {
		return err
	}
	for _, s := range stats {
		rec := []string{
			s.Ref.ID.Mouse,
			strconv.Itoa(s.Ref.ID.Fov),
			s.Ref.ID.Condition,
			strconv.Itoa(s.Ref.ID.Day),
			strconv.Itoa(s.Ref.Cell),
			strconv.Itoa(s.Before),
			strconv.Itoa(s.During),
			strconv.Itoa(s.After),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Package report renders a finished cohort run: tabular per-cell summaries,
// pairwise comparison tables and figures.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/posthoc"
)

// Metric selects which per-cell statistic a comparison or chart runs over.
type Metric string

const (
	MetricAUC       Metric = "auc"
	MetricRate      Metric = "rate_per_sec"
	MetricOcclusion Metric = "occlusion_spikes"
)

// comparisonMetrics fixes the output order of the pairwise tables.
var comparisonMetrics = []Metric{MetricAUC, MetricRate, MetricOcclusion}

// EpochCellStat is one cell's summary within one epoch of one FOV.
type EpochCellStat struct {
	Fov        metadata.FovID
	Cell       int
	Epoch      analog.Epoch
	Spikes     int
	AUC        float64
	RatePerSec float64
}

// BuildEpochStats summarizes every cell of every FOV across all six epochs.
// Cells with no frames in an epoch are absent from the result rather than
// reported as zeros.
func BuildEpochStats(c *align.Cohort, opts dffstats.SpikeOptions) []EpochCellStat {
	var out []EpochCellStat
	for _, arr := range c.Fovs {
		for _, e := range analog.Epochs() {
			for _, s := range dffstats.Summarize(arr.Slice(e), arr.Meta.FPS, opts) {
				out = append(out, EpochCellStat{
					Fov:        arr.Meta.ID,
					Cell:       s.Cell,
					Epoch:      e,
					Spikes:     s.Spikes,
					AUC:        s.AUC,
					RatePerSec: s.RatePerSec,
				})
			}
		}
	}
	return out
}

// InvalidCellSet resolves configured invalid cell rows, which index the
// concatenated cohort cell order, into per-FOV cell identities. Indexing
// the concatenation keeps a row number naming exactly one cell even when
// several FOVs share local cell indices.
func InvalidCellSet(c *align.Cohort, rows []int) map[align.CellRef]bool {
	refs := c.CellRefs()
	set := make(map[align.CellRef]bool, len(rows))
	for _, r := range rows {
		if r >= 0 && r < len(refs) {
			set[refs[r]] = true
		}
	}
	return set
}

// Compare runs the pairwise epoch comparison over one metric. Cells in skip
// are excluded from the comparison but stay in the stats table. Epochs with
// no cells simply do not form a group.
func Compare(stats []EpochCellStat, metric Metric, skip map[align.CellRef]bool) *posthoc.Comparison {
	byEpoch := make(map[analog.Epoch][]float64)
	for _, s := range stats {
		if skip[align.CellRef{ID: s.Fov, Cell: s.Cell}] {
			continue
		}
		v := s.AUC
		if metric == MetricRate {
			v = s.RatePerSec
		}
		byEpoch[s.Epoch] = append(byEpoch[s.Epoch], v)
	}

	var groups []posthoc.Group
	for _, e := range analog.Epochs() {
		if vals := byEpoch[e]; len(vals) > 0 {
			groups = append(groups, posthoc.Group{Name: e.String(), Values: vals})
		}
	}
	return posthoc.TukeyHSD(groups)
}

// WriteStatsCSV writes the per-cell per-epoch table.
func WriteStatsCSV(w io.Writer, stats []EpochCellStat) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"mouse", "fov", "condition", "day", "cell", "epoch", "spikes", "auc", "rate_per_sec"}); err != nil {
		return err
	}
	for _, s := range stats {
		rec := []string{
			s.Fov.Mouse,
			strconv.Itoa(s.Fov.Fov),
			s.Fov.Condition,
			strconv.Itoa(s.Fov.Day),
			strconv.Itoa(s.Cell),
			s.Epoch.String(),
			strconv.Itoa(s.Spikes),
			strconv.FormatFloat(s.AUC, 'g', -1, 64),
			strconv.FormatFloat(s.RatePerSec, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteComparisonsCSV writes the pairwise significance tables, one block of
// rows per metric, warnings included as comment-style rows.
func WriteComparisonsCSV(w io.Writer, cmps map[Metric]*posthoc.Comparison) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"metric", "epoch_a", "epoch_b", "mean_diff", "q", "p"}); err != nil {
		return err
	}
	for _, m := range comparisonMetrics {
		cmp := cmps[m]
		if cmp == nil {
			continue
		}
		for _, p := range cmp.Pairs {
			rec := []string{
				string(m), p.A, p.B,
				strconv.FormatFloat(p.MeanDiff, 'g', -1, 64),
				strconv.FormatFloat(p.Q, 'g', -1, 64),
				strconv.FormatFloat(p.P, 'g', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		for _, warn := range cmp.Warnings {
			if err := cw.Write([]string{string(m), "", "", "", "", fmt.Sprintf("warning: %s", warn)}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

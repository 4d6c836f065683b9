// Package dffstats computes per-cell, per-epoch statistics over aligned
// dF/F slices: spike detection, area under the curve and firing rates.
package dffstats

import (
	"sort"

	"github.com/pblab-data/caflow/internal/align"
)

// SpikeOptions controls peak detection.
type SpikeOptions struct {
	Thresh  float64 // relative height within the trace's range, 0..1
	MinDist int     // minimum inter-peak distance in frames
}

// DefaultSpikeOptions matches the values tuned on the occlusion cohorts.
func DefaultSpikeOptions() SpikeOptions {
	return SpikeOptions{Thresh: 0.65, MinDist: 7}
}

// DetectSpikes finds calcium-transient peaks in one cell's aligned trace.
// Only present samples are considered; each contiguous present run is
// scanned independently so missing-padded epoch gaps never fabricate edges.
// The result is strictly deterministic: ties between equal-height peaks
// resolve toward the earlier frame.
func DetectSpikes(row []align.Sample, opts SpikeOptions) []int {
	if opts.MinDist < 1 {
		opts.MinDist = 1
	}
	var all []int
	forEachRun(row, func(start int, seg []float64) {
		for _, p := range peakIndexes(seg, opts.Thresh, opts.MinDist) {
			all = append(all, start+p)
		}
	})
	sort.Ints(all)
	return all
}

// SpikeTrain runs DetectSpikes over every cell, returning boolean trains on
// the full frame axis. Trains are derived data, always recomputed from
// dF/F, never persisted.
func SpikeTrain(slice [][]align.Sample, opts SpikeOptions) [][]bool {
	trains := make([][]bool, len(slice))
	for c, row := range slice {
		train := make([]bool, len(row))
		for _, idx := range DetectSpikes(row, opts) {
			train[idx] = true
		}
		trains[c] = train
	}
	return trains
}

// forEachRun invokes fn for every contiguous run of present samples.
func forEachRun(row []align.Sample, fn func(start int, seg []float64)) {
	i := 0
	for i < len(row) {
		if !row[i].Present {
			i++
			continue
		}
		j := i
		for j < len(row) && row[j].Present {
			j++
		}
		seg := make([]float64, j-i)
		for k := i; k < j; k++ {
			seg[k-i] = row[k].Value
		}
		fn(i, seg)
		i = j
	}
}

// peakIndexes is a peakutils-style detector: local maxima above a relative
// height threshold, thinned so no two kept peaks sit closer than minDist.
// Taller peaks win the thinning; equal heights prefer the earlier index.
func peakIndexes(y []float64, thres float64, minDist int) []int {
	if len(y) < 3 {
		return nil
	}
	mn, mx := y[0], y[0]
	for _, v := range y[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	if mx == mn {
		return nil
	}
	abs := thres*(mx-mn) + mn

	var cand []int
	for i := 1; i < len(y)-1; i++ {
		if y[i] > abs && y[i] > y[i-1] && y[i] >= y[i+1] {
			cand = append(cand, i)
		}
	}
	if len(cand) == 0 {
		return nil
	}

	order := append([]int(nil), cand...)
	sort.SliceStable(order, func(a, b int) bool {
		if y[order[a]] != y[order[b]] {
			return y[order[a]] > y[order[b]]
		}
		return order[a] < order[b]
	})

	kept := make([]int, 0, len(order))
	for _, i := range order {
		ok := true
		for _, k := range kept {
			if i-k < minDist && k-i < minDist {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, i)
		}
	}
	sort.Ints(kept)
	return kept
}

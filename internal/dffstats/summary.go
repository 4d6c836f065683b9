package dffstats

import (
	"math"

	"gonum.org/v1/gonum/integrate"

	"github.com/pblab-data/caflow/internal/align"
)

// AUC integrates |dF/F| over the row's valid frames with the trapezoid
// rule, in units of dF/F x seconds. Each contiguous present run integrates
// separately; missing gaps contribute nothing.
func AUC(row []align.Sample, fps float64) float64 {
	total := 0.0
	forEachRun(row, func(start int, seg []float64) {
		if len(seg) < 2 {
			return
		}
		x := make([]float64, len(seg))
		y := make([]float64, len(seg))
		for i, v := range seg {
			x[i] = float64(start+i) / fps
			y[i] = math.Abs(v)
		}
		total += integrate.Trapezoidal(x, y)
	})
	return total
}

// ValidSeconds returns the duration covered by present samples.
func ValidSeconds(row []align.Sample, fps float64) float64 {
	n := 0
	for _, s := range row {
		if s.Present {
			n++
		}
	}
	return float64(n) / fps
}

// MeanSpikeRate is spikes per second of valid recording time. A row with no
// valid frames rates zero rather than dividing by zero.
func MeanSpikeRate(spikes int, row []align.Sample, fps float64) float64 {
	secs := ValidSeconds(row, fps)
	if secs == 0 {
		return 0
	}
	return float64(spikes) / secs
}

// RollingMeanRate computes the population mean spike train smoothed with a
// trailing window of the given length in frames. This feeds the cohort
// report's rate-over-time curve.
func RollingMeanRate(trains [][]bool, window int) []float64 {
	if len(trains) == 0 {
		return nil
	}
	if window < 1 {
		window = 1
	}
	frames := len(trains[0])
	pop := make([]float64, frames)
	for _, train := range trains {
		for f, s := range train {
			if s {
				pop[f]++
			}
		}
	}
	for f := range pop {
		pop[f] /= float64(len(trains))
	}

	out := make([]float64, frames)
	sum := 0.0
	for f := 0; f < frames; f++ {
		sum += pop[f]
		if f >= window {
			sum -= pop[f-window]
		}
		n := window
		if f+1 < window {
			n = f + 1
		}
		out[f] = sum / float64(n)
	}
	return out
}

// CellSummary is one row of the per-epoch statistics table.
type CellSummary struct {
	Cell       int
	Spikes     int
	AUC        float64
	RatePerSec float64
}

// Summarize computes the per-cell statistics of one epoch slice. Cells with
// no valid frames in the epoch are skipped; their absence, not a zero row,
// is what downstream consumers see.
func Summarize(slice [][]align.Sample, fps float64, opts SpikeOptions) []CellSummary {
	var out []CellSummary
	for c, row := range slice {
		if ValidSeconds(row, fps) == 0 {
			continue
		}
		spikes := DetectSpikes(row, opts)
		out = append(out, CellSummary{
			Cell:       c,
			Spikes:     len(spikes),
			AUC:        AUC(row, fps),
			RatePerSec: MeanSpikeRate(len(spikes), row, fps),
		})
	}
	return out
}

package analog

import (
	"errors"
	"fmt"
	"math"
)

// ErrTimebaseMismatch reports imaging timestamps that fall entirely outside
// the analog trace's coverage, which means the two clocks cannot describe
// the same recording.
var ErrTimebaseMismatch = errors.New("imaging timestamps outside analog trace coverage")

// Timebase maps absolute imaging timestamps onto analog sample indices.
// Both clocks must share one absolute-time origin; the analog trace starts
// at Start seconds on that clock and advances at Rate samples per second.
type Timebase struct {
	Rate    float64 // analog samples per second
	Start   float64 // analog acquisition start on the shared clock, seconds
	Samples int     // total analog samples recorded
}

// NewTimebase validates and builds a Timebase.
func NewTimebase(rate, start float64, samples int) (Timebase, error) {
	if rate <= 0 {
		return Timebase{}, fmt.Errorf("analog sample rate must be positive, got %f", rate)
	}
	if samples <= 0 {
		return Timebase{}, fmt.Errorf("analog trace must have samples, got %d", samples)
	}
	return Timebase{Rate: rate, Start: start, Samples: samples}, nil
}

// End returns the first instant past analog coverage on the shared clock.
func (tb Timebase) End() float64 {
	return tb.Start + float64(tb.Samples)/tb.Rate
}

// SampleIndex maps an imaging timestamp to the nearest analog sample.
// Rounding (not truncation) keeps frames that land exactly on a sample
// boundary from sliding one sample early through float error. Timestamps
// before the first or after the last sample clamp to the boundary;
// boundary frames take the boundary sample's state rather than going
// missing.
func (tb Timebase) SampleIndex(ts float64) int {
	idx := int(math.Round((ts - tb.Start) * tb.Rate))
	if idx < 0 {
		return 0
	}
	if idx >= tb.Samples {
		return tb.Samples - 1
	}
	return idx
}

// CheckCoverage fails with ErrTimebaseMismatch when no imaging frame falls
// inside analog coverage. Partial overlap is fine: the out-of-range frames
// clamp.
func (tb Timebase) CheckCoverage(timestamps []float64) error {
	if len(timestamps) == 0 {
		return nil
	}
	end := tb.End()
	for _, ts := range timestamps {
		if ts >= tb.Start && ts < end {
			return nil
		}
	}
	return fmt.Errorf("%w: frames span [%f, %f], analog covers [%f, %f)",
		ErrTimebaseMismatch, timestamps[0], timestamps[len(timestamps)-1], tb.Start, end)
}

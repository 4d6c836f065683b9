package analog

import (
	"math"

	"github.com/pblab-data/caflow/internal/trace"
)

// ThresholdOptions controls how raw analog levels become boolean activity.
type ThresholdOptions struct {
	Level          float64 // active when the sample crosses this level
	InvertRun      bool    // running wheels on some rigs pull low when active
	InvertOccluder bool
}

// DefaultThresholdOptions matches the DAQ's TTL levels.
func DefaultThresholdOptions() ThresholdOptions {
	return ThresholdOptions{Level: 2.5}
}

// Activity holds the per-channel boolean active vectors, still on the
// analog sample axis. Optional channels are nil when not recorded.
type Activity struct {
	Stimulus []bool
	Run      []bool
	Juxta    []bool
	Occluder []bool
}

// Len returns the number of analog samples.
func (a *Activity) Len() int { return len(a.Stimulus) }

// Threshold converts each analog channel into a boolean active vector by a
// fixed level crossing. Non-finite samples count as inactive. No smoothing
// happens here; bout detection rejects short noise spikes instead.
func Threshold(raw *trace.RawAnalogTrace, opts ThresholdOptions) *Activity {
	act := &Activity{
		Stimulus: crossings(raw.Stimulus, opts.Level, false),
		Run:      crossings(raw.Run, opts.Level, opts.InvertRun),
	}
	if raw.Juxta != nil {
		act.Juxta = crossings(raw.Juxta, opts.Level, false)
	}
	if raw.Occluder != nil {
		act.Occluder = crossings(raw.Occluder, opts.Level, opts.InvertOccluder)
	}
	return act
}

func crossings(v []float64, level float64, invert bool) []bool {
	out := make([]bool, len(v))
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		active := x >= level
		if invert {
			active = !active
		}
		out[i] = active
	}
	return out
}

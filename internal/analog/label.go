package analog

import "fmt"

// LabelOptions bundles the knobs of the frame labeller.
type LabelOptions struct {
	MinBoutSamples int // bouts shorter than this many analog samples are noise
}

// LabelFrames produces one Label per imaging frame. Each channel's active
// vector is debounced into bouts, the bouts are rasterized back to a sample
// mask and every frame's timestamp is mapped through the shared timebase to
// test membership. Tie-break when the juxta and stimulus channels are both
// active at a frame: juxta wins.
func LabelFrames(act *Activity, timestamps []float64, tb Timebase, opts LabelOptions) ([]Label, error) {
	if act.Len() != tb.Samples {
		return nil, fmt.Errorf("activity has %d samples but timebase declares %d", act.Len(), tb.Samples)
	}
	if err := tb.CheckCoverage(timestamps); err != nil {
		return nil, err
	}

	samples := act.Len()
	stimMask := boutMask(DetectBouts(act.Stimulus, opts.MinBoutSamples), samples)
	runMask := boutMask(DetectBouts(act.Run, opts.MinBoutSamples), samples)
	var juxtaMask, occMask []bool
	if act.Juxta != nil {
		juxtaMask = boutMask(DetectBouts(act.Juxta, opts.MinBoutSamples), samples)
	}
	if act.Occluder != nil {
		occMask = boutMask(DetectBouts(act.Occluder, opts.MinBoutSamples), samples)
	}

	labels := make([]Label, len(timestamps))
	for i, ts := range timestamps {
		s := tb.SampleIndex(ts)

		var l Label
		if runMask[s] {
			l.Loco = Run
		}
		switch {
		case juxtaMask != nil && juxtaMask[s]:
			l.Stim = Juxta
		case stimMask[s]:
			l.Stim = Stim
		default:
			l.Stim = Spont
		}
		if occMask != nil && occMask[s] {
			l.Occluded = true
		}
		labels[i] = l
	}
	return labels, nil
}

// EpochCounts tallies how many frames landed in each epoch, a cheap sanity
// readout the batch log prints per FOV.
func EpochCounts(labels []Label) [NumEpochs]int {
	var counts [NumEpochs]int
	for _, l := range labels {
		counts[l.Epoch()]++
	}
	return counts
}

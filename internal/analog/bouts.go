package analog

// Bout is one contiguous active interval on the analog sample axis,
// closed-open: samples [Start, End) are active.
type Bout struct {
	Start int
	End   int
}

// Len returns the bout length in analog samples.
func (b Bout) Len() int { return b.End - b.Start }

// Contains reports whether the sample index falls inside the bout.
func (b Bout) Contains(i int) bool { return i >= b.Start && i < b.End }

// DetectBouts edge-detects an active vector into bouts. A bout starts at a
// 0->1 transition and ends at the following 1->0 transition; a bout still
// open at the end of the trace is closed at the last sample. Bouts shorter
// than minLen samples are discarded as noise.
func DetectBouts(active []bool, minLen int) []Bout {
	var bouts []Bout
	start := -1
	for i, a := range active {
		switch {
		case a && start < 0:
			start = i
		case !a && start >= 0:
			if i-start >= minLen {
				bouts = append(bouts, Bout{Start: start, End: i})
			}
			start = -1
		}
	}
	if start >= 0 && len(active)-start >= minLen {
		bouts = append(bouts, Bout{Start: start, End: len(active)})
	}
	return bouts
}

// boutMask rasterizes bouts back onto a sample axis after debouncing. The
// mask is what frame labelling tests membership against, which keeps the
// closed-open interval semantics in one place.
func boutMask(bouts []Bout, samples int) []bool {
	mask := make([]bool, samples)
	for _, b := range bouts {
		end := b.End
		if end > samples {
			end = samples
		}
		for i := b.Start; i < end; i++ {
			mask[i] = true
		}
	}
	return mask
}

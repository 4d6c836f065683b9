package align

import (
	"fmt"

	"github.com/pblab-data/caflow/internal/analog"
)

// Result is the outcome of fusing one FOV. NoData marks a FOV where the
// segmentation tool found no cells; that is a recognized terminal state,
// not an error, and Array is nil in that case.
type Result struct {
	Array  *Array
	NoData bool
}

// Fuse combines the dF/F tensor with the per-frame labels into the aligned
// array. A tensor with zero cells short-circuits to an explicit no-data
// result so consumers can tell "nothing to analyze" from "zero activity".
func Fuse(dff [][]float64, labels []analog.Label, meta Meta) (*Result, error) {
	if len(dff) == 0 {
		return &Result{NoData: true}, nil
	}
	frames := len(dff[0])
	if len(labels) != frames {
		return nil, fmt.Errorf("fluorescence has %d frames but %d labels were produced", frames, len(labels))
	}

	epochs := make([]analog.Epoch, frames)
	occluded := make([]bool, frames)
	anyOccluded := false
	for f, l := range labels {
		epochs[f] = l.Epoch()
		if l.Occluded {
			occluded[f] = true
			anyOccluded = true
		}
	}
	if !anyOccluded {
		occluded = nil
	}

	arr, err := New(dff, epochs, occluded, meta)
	if err != nil {
		return nil, err
	}
	return &Result{Array: arr}, nil
}

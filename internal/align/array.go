// Package align fuses the fluorescence tensor with per-frame behavioral
// labels into the aligned epoch array every downstream statistic consumes.
package align

import (
	"fmt"

	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/metadata"
)

// Sample is one aligned dF/F measurement. Present distinguishes "measured
// zero" from "frame not in this epoch"; a zero Sample means missing, never
// silent zero activity.
type Sample struct {
	Value   float64
	Present bool
}

// Meta carries the scalar metadata persisted with every aligned array.
type Meta struct {
	ID         metadata.FovID
	FPS        float64
	StimWindow float64 // seconds
	Timestamps []float64
}

// Array is the aligned epoch x cell x time container for one FOV. Every
// epoch slice spans the full recording; frames outside the epoch hold
// missing samples so slices from different FOVs stack without truncation.
// Occlusion is a per-frame flag orthogonal to the epoch partition.
type Array struct {
	Cells    int
	Frames   int
	Meta     Meta
	Occluded []bool

	// epochs[frame] is the epoch the frame belongs to; data is the raw
	// cell x frame tensor. Together they reproduce every epoch slice while
	// keeping the partition invariant true by construction.
	epochs []analog.Epoch
	data   [][]float64
}

// New assembles an Array from the raw tensor and per-frame epochs. It is
// used by Fuse and by the persistence reader.
func New(data [][]float64, epochs []analog.Epoch, occluded []bool, meta Meta) (*Array, error) {
	cells := len(data)
	frames := len(epochs)
	if cells > 0 {
		frames = len(data[0])
	}
	for i, row := range data {
		if len(row) != frames {
			return nil, fmt.Errorf("cell %d has %d frames, expected %d", i, len(row), frames)
		}
	}
	if len(epochs) != frames {
		return nil, fmt.Errorf("%d epoch labels for %d frames", len(epochs), frames)
	}
	for f, e := range epochs {
		if e >= analog.NumEpochs {
			return nil, fmt.Errorf("frame %d carries invalid epoch %d", f, e)
		}
	}
	if occluded != nil && len(occluded) != frames {
		return nil, fmt.Errorf("%d occlusion flags for %d frames", len(occluded), frames)
	}
	// Shorter timestamp vectors are NaN-padded on encode; longer ones would
	// shift the binary payload layout.
	if len(meta.Timestamps) > frames {
		return nil, fmt.Errorf("%d timestamps for %d frames", len(meta.Timestamps), frames)
	}

	return &Array{
		Cells:    cells,
		Frames:   frames,
		Meta:     meta,
		Occluded: occluded,
		epochs:   epochs,
		data:     data,
	}, nil
}

// EpochAt returns the epoch of one frame.
func (a *Array) EpochAt(frame int) analog.Epoch { return a.epochs[frame] }

// At returns the sample of one (epoch, cell, frame) position. Frames
// belonging to a different epoch come back missing.
func (a *Array) At(e analog.Epoch, cell, frame int) Sample {
	if a.epochs[frame] != e {
		return Sample{}
	}
	return Sample{Value: a.data[cell][frame], Present: true}
}

// Slice materializes one epoch's cells x frames grid, missing-padded to the
// full recording length.
func (a *Array) Slice(e analog.Epoch) [][]Sample {
	out := make([][]Sample, a.Cells)
	for c := 0; c < a.Cells; c++ {
		row := make([]Sample, a.Frames)
		for f := 0; f < a.Frames; f++ {
			if a.epochs[f] == e {
				row[f] = Sample{Value: a.data[c][f], Present: true}
			}
		}
		out[c] = row
	}
	return out
}

// ValidFrames returns the frame indices belonging to the epoch.
func (a *Array) ValidFrames(e analog.Epoch) []int {
	var idx []int
	for f, fe := range a.epochs {
		if fe == e {
			idx = append(idx, f)
		}
	}
	return idx
}

// CheckPartition verifies that every (cell, frame) position is present in
// exactly one epoch slice. With the label-backed representation this can
// only fail on a corrupted read, but tests and the persistence layer assert
// it anyway.
func (a *Array) CheckPartition() error {
	for f := 0; f < a.Frames; f++ {
		n := 0
		for _, e := range analog.Epochs() {
			if a.epochs[f] == e {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("frame %d belongs to %d epochs", f, n)
		}
	}
	return nil
}

package align

import (
	"fmt"

	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/metadata"
)

// Cohort is the concatenation of aligned arrays across FOVs. The epoch and
// time axes are shared (time padded to the longest recording); the cell
// axis stacks across FOVs with per-row provenance retained.
type Cohort struct {
	Frames int      // longest recording, in frames
	Fovs   []*Array // source arrays, ownership transferred
}

// CellRef names one cohort cell by its source FOV and local index.
type CellRef struct {
	ID   metadata.FovID
	Cell int
}

// Concat builds a cohort from per-FOV arrays. Arrays with differing frame
// counts are accepted: shorter recordings are missing-padded on the time
// axis when slices are materialized, never truncated.
func Concat(arrays []*Array) (*Cohort, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("no aligned arrays to concatenate")
	}
	frames := 0
	for _, a := range arrays {
		if a.Frames > frames {
			frames = a.Frames
		}
	}
	return &Cohort{Frames: frames, Fovs: arrays}, nil
}

// Cells returns the total cell count across FOVs.
func (c *Cohort) Cells() int {
	n := 0
	for _, a := range c.Fovs {
		n += a.Cells
	}
	return n
}

// CellRefs returns the provenance of every cohort row, in stacking order.
func (c *Cohort) CellRefs() []CellRef {
	refs := make([]CellRef, 0, c.Cells())
	for _, a := range c.Fovs {
		for cell := 0; cell < a.Cells; cell++ {
			refs = append(refs, CellRef{ID: a.Meta.ID, Cell: cell})
		}
	}
	return refs
}

// Slice materializes one epoch's cohort-wide cells x time grid. Rows stack
// in CellRefs order; every row is padded to the cohort frame count.
func (c *Cohort) Slice(e analog.Epoch) [][]Sample {
	out := make([][]Sample, 0, c.Cells())
	for _, a := range c.Fovs {
		slice := a.Slice(e)
		for _, row := range slice {
			if len(row) < c.Frames {
				padded := make([]Sample, c.Frames)
				copy(padded, row)
				row = padded
			}
			out = append(out, row)
		}
	}
	return out
}

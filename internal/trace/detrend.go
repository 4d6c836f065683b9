package trace

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DetrendOptions controls the on-the-fly dF/F recomputation. The values
// mirror the segmentation tool's own automatic detrending so that archives
// with and without a precomputed F_dff stay comparable.
type DetrendOptions struct {
	Quantile float64 // baseline percentile of the raw trace, 0..1
	Window   int     // sliding-baseline window length in frames
}

// DefaultDetrendOptions returns the tool-compatible defaults.
func DefaultDetrendOptions() DetrendOptions {
	return DetrendOptions{Quantile: 0.08, Window: 500}
}

// Detrend recomputes per-cell dF/F from the decomposition the segmentation
// tool stored: the raw fluorescence of cell i is C[i] + YrA[i] plus the
// projection of the background components onto that cell's spatial
// footprint. The baseline F0 is a sliding low-percentile of the raw trace
// and dF/F = (F - F0) / F0.
func Detrend(comp *Decomposition, opts DetrendOptions) ([][]float64, error) {
	cells := len(comp.C)
	if cells == 0 {
		return [][]float64{}, nil
	}
	frames := len(comp.C[0])
	if len(comp.YrA) != cells {
		return nil, fmt.Errorf("component shape mismatch: C has %d cells, YrA has %d", cells, len(comp.YrA))
	}
	if opts.Quantile <= 0 || opts.Quantile >= 1 {
		return nil, fmt.Errorf("baseline quantile must be in (0, 1), got %f", opts.Quantile)
	}
	if opts.Window < 1 {
		opts.Window = frames
	}

	bg, err := backgroundPerCell(comp, cells, frames)
	if err != nil {
		return nil, err
	}

	dff := make([][]float64, cells)
	for i := 0; i < cells; i++ {
		raw := make([]float64, frames)
		for t := 0; t < frames; t++ {
			raw[t] = comp.C[i][t] + comp.YrA[i][t] + bg[i][t]
		}
		f0 := slidingQuantile(raw, opts.Window, opts.Quantile)
		row := make([]float64, frames)
		for t := 0; t < frames; t++ {
			if f0[t] != 0 {
				row[t] = (raw[t] - f0[t]) / f0[t]
			}
		}
		dff[i] = row
	}
	return dff, nil
}

// backgroundPerCell projects the background components onto each cell's
// spatial footprint: for cell i, bg_i(t) = (a_i . b / |a_i|^2) f(t) summed
// over background components.
func backgroundPerCell(comp *Decomposition, cells, frames int) ([][]float64, error) {
	bg := make([][]float64, cells)
	if len(comp.A) == 0 || len(comp.B) == 0 || len(comp.F) == 0 {
		// Archive without background factors: treat background as zero.
		for i := range bg {
			bg[i] = make([]float64, frames)
		}
		return bg, nil
	}

	pixels := len(comp.A)
	if len(comp.B) != pixels {
		return nil, fmt.Errorf("component shape mismatch: A has %d pixels, b has %d", pixels, len(comp.B))
	}
	nb := len(comp.B[0])
	if len(comp.F) != nb {
		return nil, fmt.Errorf("component shape mismatch: b has %d components, f has %d", nb, len(comp.F))
	}
	if len(comp.A[0]) != cells {
		return nil, fmt.Errorf("component shape mismatch: A has %d cells, C has %d", len(comp.A[0]), cells)
	}

	a := denseFrom(comp.A, pixels, cells)
	b := denseFrom(comp.B, pixels, nb)
	f := denseFrom(comp.F, nb, frames)

	// weights = (A^T b), cells x nb, normalized by each footprint's energy.
	var w mat.Dense
	w.Mul(a.T(), b)
	for i := 0; i < cells; i++ {
		col := mat.Col(nil, i, a)
		norm := floats.Dot(col, col)
		if norm == 0 {
			norm = 1
		}
		for j := 0; j < nb; j++ {
			w.Set(i, j, w.At(i, j)/norm)
		}
	}

	var proj mat.Dense
	proj.Mul(&w, f) // cells x frames
	for i := 0; i < cells; i++ {
		bg[i] = mat.Row(nil, i, &proj)
	}
	return bg, nil
}

func denseFrom(rows [][]float64, r, c int) *mat.Dense {
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, rows[i][j])
		}
	}
	return d
}

// slidingQuantile computes, for every frame, the given quantile of the
// centered window around it, clamped at the trace boundaries.
func slidingQuantile(v []float64, window int, q float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	if window >= n {
		sorted := append([]float64(nil), v...)
		sort.Float64s(sorted)
		base := stat.Quantile(q, stat.Empirical, sorted, nil)
		for i := range out {
			out[i] = base
		}
		return out
	}
	half := window / 2
	buf := make([]float64, 0, window+1)
	for i := 0; i < n; i++ {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := lo + window
		if hi > n {
			hi = n
			lo = hi - window
		}
		buf = append(buf[:0], v[lo:hi]...)
		sort.Float64s(buf)
		out[i] = stat.Quantile(q, stat.Empirical, buf, nil)
	}
	return out
}

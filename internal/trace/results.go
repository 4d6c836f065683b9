package trace

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sbinet/npyio"
)

// ErrNoUsableComponents reports an NPZ archive carrying neither a dF/F
// tensor nor the decomposition needed to recompute one.
var ErrNoUsableComponents = errors.New("results archive has no dF/F and no decomposition components")

// Decomposition holds the spatial/temporal factors the segmentation tool
// derived for one FOV. They are consumed by the on-the-fly detrending path
// when the archive does not already carry a dF/F tensor.
type Decomposition struct {
	A   [][]float64 // spatial footprints, pixels x cells
	B   [][]float64 // background spatial components, pixels x nb
	C   [][]float64 // temporal components, cells x frames
	F   [][]float64 // background temporal components, nb x frames
	YrA [][]float64 // per-cell residual noise, cells x frames
}

// Results is the parsed content of one segmentation result archive.
type Results struct {
	DFF        [][]float64 // cells x frames; may have zero rows (no cells detected)
	Components *Decomposition
}

// Frames returns the number of imaging frames covered by the result.
func (r *Results) Frames() int {
	if len(r.DFF) > 0 {
		return len(r.DFF[0])
	}
	return 0
}

// Cells returns the number of detected cells.
func (r *Results) Cells() int { return len(r.DFF) }

// ReadResults opens a segmentation result archive (NumPy .npz). The archive
// is expected to carry an "F_dff" member; when it does not, the
// decomposition members (A, b, C, f, YrA) are used to recompute dF/F the
// same way the segmentation tool would.
//
// A present but empty F_dff is not an error: it means the tool detected no
// cells in this FOV, and the caller decides how to report that.
func ReadResults(path string) (*Results, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening results archive %s: %w", path, err)
	}
	defer rc.Close()

	members := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		members[strings.TrimSuffix(f.Name, ".npy")] = f
	}

	res := &Results{}
	if f, ok := members["F_dff"]; ok {
		dff, err := readMatrix(f)
		if err != nil {
			return nil, fmt.Errorf("reading F_dff: %w", err)
		}
		res.DFF = dff
	}

	if comp, err := readDecomposition(members); err == nil {
		res.Components = comp
	}

	if res.DFF == nil {
		if res.Components == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoUsableComponents, path)
		}
		dff, err := Detrend(res.Components, DefaultDetrendOptions())
		if err != nil {
			return nil, fmt.Errorf("recomputing dF/F from components: %w", err)
		}
		res.DFF = dff
	}
	return res, nil
}

func readDecomposition(members map[string]*zip.File) (*Decomposition, error) {
	comp := &Decomposition{}
	fields := []struct {
		name string
		dst  *[][]float64
	}{
		{"A", &comp.A},
		{"b", &comp.B},
		{"C", &comp.C},
		{"f", &comp.F},
		{"YrA", &comp.YrA},
	}
	for _, fld := range fields {
		f, ok := members[fld.name]
		if !ok {
			return nil, fmt.Errorf("missing member %q", fld.name)
		}
		m, err := readMatrix(f)
		if err != nil {
			return nil, fmt.Errorf("reading member %q: %w", fld.name, err)
		}
		*fld.dst = m
	}
	return comp, nil
}

// readMatrix reads one .npy archive member as a 2-D float64 matrix. 1-D
// members come back as a single row.
func readMatrix(f *zip.File) ([][]float64, error) {
	rd, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	raw, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	r, err := npyio.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	shape := r.Header.Descr.Shape
	var flat []float64
	if err := r.Read(&flat); err != nil {
		return nil, err
	}

	var rows, cols int
	switch len(shape) {
	case 0:
		rows, cols = 1, len(flat)
	case 1:
		rows, cols = 1, shape[0]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("unsupported array rank %d", len(shape))
	}
	if rows*cols != len(flat) {
		return nil, fmt.Errorf("shape %v does not match %d values", shape, len(flat))
	}

	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			if r.Header.Descr.Fortran {
				row[j] = flat[j*rows+i]
			} else {
				row[j] = flat[i*cols+j]
			}
		}
		out[i] = row
	}
	return out, nil
}

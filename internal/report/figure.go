package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/dffstats"
)

var tracePalette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff},
}

var epochFill = map[analog.Stimulus]color.RGBA{
	analog.Stim:  {R: 0xff, G: 0x7f, B: 0x0e, A: 0x30},
	analog.Juxta: {R: 0xd6, G: 0x27, B: 0x28, A: 0x30},
}

var occlusionFill = color.RGBA{R: 0x66, G: 0x66, B: 0x66, A: 0x28}

// FovFigure renders one FOV as a PNG: vertically offset dF/F traces with
// spike markers, stimulus intervals shaded behind them.
func FovFigure(arr *align.Array, opts dffstats.SpikeOptions, path string) error {
	if arr.Cells == 0 {
		return fmt.Errorf("no cells to plot")
	}

	p := plot.New()
	p.Title.Text = arr.Meta.ID.String()
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "dF/F (offset per cell)"

	sep := traceSeparation(arr)
	top := float64(arr.Cells) * sep

	if err := addStimulusPatches(p, arr, top); err != nil {
		return err
	}
	if arr.Occluded != nil {
		if err := addOcclusionPatches(p, arr, top); err != nil {
			return err
		}
	}

	for cell := 0; cell < arr.Cells; cell++ {
		row := fullTrace(arr, cell)
		offset := float64(cell) * sep

		pts := make(plotter.XYs, 0, arr.Frames)
		for f := 0; f < arr.Frames; f++ {
			pts = append(pts, plotter.XY{X: arr.Meta.Timestamps[f], Y: row[f].Value + offset})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("cell %d trace: %w", cell, err)
		}
		line.Color = tracePalette[cell%len(tracePalette)]
		line.Width = vg.Points(1)
		p.Add(line)

		spikes := dffstats.DetectSpikes(row, opts)
		if len(spikes) > 0 {
			marks := make(plotter.XYs, 0, len(spikes))
			for _, f := range spikes {
				marks = append(marks, plotter.XY{X: arr.Meta.Timestamps[f], Y: row[f].Value + offset})
			}
			sc, err := plotter.NewScatter(marks)
			if err != nil {
				return fmt.Errorf("cell %d spikes: %w", cell, err)
			}
			sc.GlyphStyle.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
			sc.GlyphStyle.Radius = vg.Points(2)
			p.Add(sc)
		}
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// fullTrace reassembles one cell's trace across the whole recording by
// looking each frame up in its own epoch.
func fullTrace(arr *align.Array, cell int) []align.Sample {
	row := make([]align.Sample, arr.Frames)
	for f := 0; f < arr.Frames; f++ {
		row[f] = arr.At(arr.EpochAt(f), cell, f)
	}
	return row
}

// traceSeparation picks the vertical offset between stacked traces from the
// widest cell's amplitude range.
func traceSeparation(arr *align.Array) float64 {
	sep := 0.0
	for cell := 0; cell < arr.Cells; cell++ {
		lo, hi := 0.0, 0.0
		for f := 0; f < arr.Frames; f++ {
			v := arr.At(arr.EpochAt(f), cell, f).Value
			if f == 0 || v < lo {
				lo = v
			}
			if f == 0 || v > hi {
				hi = v
			}
		}
		if r := hi - lo; r > sep {
			sep = r
		}
	}
	if sep == 0 {
		sep = 1
	}
	return sep * 1.1
}

// addStimulusPatches shades each contiguous stimulus or juxta interval
// behind the traces.
func addStimulusPatches(p *plot.Plot, arr *align.Array, top float64) error {
	f := 0
	for f < arr.Frames {
		stim := arr.EpochAt(f).Stimulus()
		start := f
		for f < arr.Frames && arr.EpochAt(f).Stimulus() == stim {
			f++
		}
		fill, ok := epochFill[stim]
		if !ok {
			continue
		}

		x0 := arr.Meta.Timestamps[start]
		x1 := arr.Meta.Timestamps[f-1] + 1/arr.Meta.FPS
		poly, err := plotter.NewPolygon(plotter.XYs{
			{X: x0, Y: -top * 0.05},
			{X: x1, Y: -top * 0.05},
			{X: x1, Y: top},
			{X: x0, Y: top},
		})
		if err != nil {
			return fmt.Errorf("stimulus patch: %w", err)
		}
		poly.Color = fill
		poly.LineStyle.Color = color.RGBA{A: 0}
		p.Add(poly)
	}
	return nil
}

// addOcclusionPatches shades each contiguous occluded interval.
func addOcclusionPatches(p *plot.Plot, arr *align.Array, top float64) error {
	f := 0
	for f < arr.Frames {
		if !arr.Occluded[f] {
			f++
			continue
		}
		start := f
		for f < arr.Frames && arr.Occluded[f] {
			f++
		}

		x0 := arr.Meta.Timestamps[start]
		x1 := arr.Meta.Timestamps[f-1] + 1/arr.Meta.FPS
		poly, err := plotter.NewPolygon(plotter.XYs{
			{X: x0, Y: -top * 0.05},
			{X: x1, Y: -top * 0.05},
			{X: x1, Y: top},
			{X: x0, Y: top},
		})
		if err != nil {
			return fmt.Errorf("occlusion patch: %w", err)
		}
		poly.Color = occlusionFill
		poly.LineStyle.Color = color.RGBA{A: 0}
		p.Add(poly)
	}
	return nil
}

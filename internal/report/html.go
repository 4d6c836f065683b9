package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/posthoc"
)

const significanceLevel = 0.05

// CohortHTML renders the cohort report: one box plot per metric across the
// six epochs, the population rate-over-time curve and the pairwise
// significance tables. cohort may be nil when only the tables are wanted.
func CohortHTML(w io.Writer, cohort *align.Cohort, stats []EpochCellStat, cmps map[Metric]*posthoc.Comparison, spikeOpts dffstats.SpikeOptions) error {
	page := components.NewPage()
	for _, m := range []Metric{MetricAUC, MetricRate} {
		if bp := boxPlot(m, stats); bp != nil {
			page.AddCharts(bp)
		}
	}
	if cohort != nil {
		if line := rateCurve(cohort, spikeOpts); line != nil {
			page.AddCharts(line)
		}
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("rendering charts: %w", err)
	}

	table, err := significanceHTML(cmps)
	if err != nil {
		return err
	}
	html := strings.Replace(buf.String(), "</body>", table+"</body>", 1)

	_, err = io.WriteString(w, html)
	return err
}

// rateCurve builds the population rate-over-time line: the mean spike
// train across every cohort cell, smoothed with a one-second trailing
// window. Returns nil for an empty cohort.
func rateCurve(cohort *align.Cohort, spikeOpts dffstats.SpikeOptions) *charts.Line {
	if cohort.Cells() == 0 || cohort.Frames == 0 {
		return nil
	}

	fps := cohort.Fovs[0].Meta.FPS
	var trains [][]bool
	for _, arr := range cohort.Fovs {
		rows := make([][]align.Sample, arr.Cells)
		for cell := range rows {
			rows[cell] = fullTrace(arr, cell)
		}
		for _, train := range dffstats.SpikeTrain(rows, spikeOpts) {
			padded := make([]bool, cohort.Frames)
			copy(padded, train)
			trains = append(trains, padded)
		}
	}

	window := int(fps + 0.5)
	rate := dffstats.RollingMeanRate(trains, window)

	axis := make([]string, len(rate))
	data := make([]opts.LineData, len(rate))
	for f, v := range rate {
		axis[f] = fmt.Sprintf("%.1f", float64(f)/fps)
		// Mean spikes per frame scaled to spikes per second.
		data[f] = opts.LineData{Value: v * fps}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "population spike rate over time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "spikes/s"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (s)"}),
	)
	line.SetXAxis(axis).AddSeries("mean rate", data)
	return line
}

// boxPlot builds one per-epoch box plot. Returns nil when no epoch has
// data, since an empty boxplot renders as a broken axis.
func boxPlot(m Metric, stats []EpochCellStat) *charts.BoxPlot {
	byEpoch := make(map[analog.Epoch][]float64)
	for _, s := range stats {
		v := s.AUC
		if m == MetricRate {
			v = s.RatePerSec
		}
		byEpoch[s.Epoch] = append(byEpoch[s.Epoch], v)
	}

	var axis []string
	var data []opts.BoxPlotData
	for _, e := range analog.Epochs() {
		vals := byEpoch[e]
		if len(vals) == 0 {
			continue
		}
		axis = append(axis, e.String())
		data = append(data, opts.BoxPlotData{Value: fiveNumber(vals)})
	}
	if len(data) == 0 {
		return nil
	}

	bp := charts.NewBoxPlot()
	bp.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: string(m) + " by epoch"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: string(m)}),
	)
	bp.SetXAxis(axis).AddSeries(string(m), data)
	return bp
}

// fiveNumber computes the box plot summary: min, Q1, median, Q3, max.
func fiveNumber(vals []float64) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return []float64{
		sorted[0],
		stat.Quantile(0.25, stat.Empirical, sorted, nil),
		stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.75, stat.Empirical, sorted, nil),
		sorted[len(sorted)-1],
	}
}

var significanceTmpl = template.Must(template.New("sig").Parse(`
<div style="margin:2em auto;max-width:900px;font-family:sans-serif">
<h2>Pairwise comparisons (Tukey HSD)</h2>
{{range .}}
<h3>{{.Metric}}</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>group A</th><th>group B</th><th>mean diff</th><th>q</th><th>p</th><th></th></tr>
{{range .Pairs}}
<tr><td>{{.A}}</td><td>{{.B}}</td><td>{{printf "%.4f" .MeanDiff}}</td><td>{{printf "%.3f" .Q}}</td><td>{{printf "%.4f" .P}}</td><td>{{if .Significant}}*{{end}}</td></tr>
{{end}}
</table>
{{range .Warnings}}<p><em>{{.}}</em></p>{{end}}
{{end}}
</div>
`))

type sigRow struct {
	A, B        string
	MeanDiff    float64
	Q, P        float64
	Significant bool
}

type sigBlock struct {
	Metric   string
	Pairs    []sigRow
	Warnings []string
}

func significanceHTML(cmps map[Metric]*posthoc.Comparison) (string, error) {
	var blocks []sigBlock
	for _, m := range comparisonMetrics {
		cmp := cmps[m]
		if cmp == nil {
			continue
		}
		b := sigBlock{Metric: string(m), Warnings: cmp.Warnings}
		for _, p := range cmp.Pairs {
			b.Pairs = append(b.Pairs, sigRow{
				A: p.A, B: p.B, MeanDiff: p.MeanDiff, Q: p.Q, P: p.P,
				Significant: p.P < significanceLevel,
			})
		}
		blocks = append(blocks, b)
	}

	var buf bytes.Buffer
	if err := significanceTmpl.Execute(&buf, blocks); err != nil {
		return "", fmt.Errorf("rendering significance table: %w", err)
	}
	return buf.String(), nil
}

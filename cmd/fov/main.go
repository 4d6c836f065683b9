// Command fov runs the single-recording pipeline: align one FOV against
// its analog trace, print the per-epoch breakdown and optionally render
// the trace figure.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/config"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/report"
	"github.com/pblab-data/caflow/internal/trace"
	"github.com/pblab-data/caflow/internal/version"
)

func main() {
	configPath := flag.String("config", "", "JSON analysis config")
	resultsPath := flag.String("results", "", "Segmentation results archive (.npz)")
	analogPath := flag.String("analog", "", "Companion analog trace (default: derived from -results)")
	figurePath := flag.String("figure", "", "Write the trace figure PNG to this path")
	savePath := flag.String("save", "", "Persist the aligned array to this path (write-if-absent)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *resultsPath == "" {
		fmt.Fprintln(os.Stderr, "-results is required")
		os.Exit(1)
	}

	cfg := &config.AnalysisConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
	}

	fsys := fsutil.OSFileSystem{}

	analogFile := *analogPath
	if analogFile == "" && strings.HasSuffix(*resultsPath, "results.npz") {
		cand := strings.TrimSuffix(*resultsPath, "results.npz") + "analog.txt"
		if fsys.Exists(cand) {
			analogFile = cand
		}
	}
	if analogFile == "" {
		fmt.Fprintln(os.Stderr, "no companion analog file; pass -analog")
		os.Exit(1)
	}

	res, err := trace.ReadResults(*resultsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading results: %v\n", err)
		os.Exit(1)
	}
	meta, err := metadata.Resolve(*resultsPath, cfg.GetFPS(), cfg.GetStartTime(), res.Frames(), 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving metadata: %v\n", err)
		os.Exit(1)
	}

	raw, err := fsys.ReadFile(analogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading analog trace: %v\n", err)
		os.Exit(1)
	}
	analogTrace, err := trace.ReadAnalog(bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing analog trace: %v\n", err)
		os.Exit(1)
	}

	act := analog.Threshold(analogTrace, analog.ThresholdOptions{Level: cfg.GetVoltageThresh()})
	tb, err := analog.NewTimebase(cfg.GetAnalogRate(), cfg.GetStartTime(), analogTrace.Len())
	if err != nil {
		fmt.Fprintf(os.Stderr, "building timebase: %v\n", err)
		os.Exit(1)
	}
	labels, err := analog.LabelFrames(act, meta.Timestamps, tb,
		analog.LabelOptions{MinBoutSamples: cfg.GetMinBoutSamples()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "labelling frames: %v\n", err)
		os.Exit(1)
	}

	fused, err := align.Fuse(res.DFF, labels, align.Meta{
		ID:         meta.ID,
		FPS:        meta.FPS,
		StimWindow: cfg.GetStimWindow(),
		Timestamps: meta.Timestamps,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fusing: %v\n", err)
		os.Exit(1)
	}
	if fused.NoData {
		fmt.Println("no cells detected; nothing to analyze")
		return
	}
	arr := fused.Array

	fmt.Printf("%s: %d cells, %d frames at %.2f fps\n", arr.Meta.ID, arr.Cells, arr.Frames, arr.Meta.FPS)
	for _, e := range analog.Epochs() {
		n := len(arr.ValidFrames(e))
		if n == 0 {
			continue
		}
		fmt.Printf("  %-12s %5d frames (%.1f s)\n", e, n, float64(n)/arr.Meta.FPS)
	}

	opts := dffstats.SpikeOptions{Thresh: cfg.GetSpikeThresh(), MinDist: cfg.GetSpikeMinDist()}
	for _, s := range dffstats.Summarize(allEpochs(arr), arr.Meta.FPS, opts) {
		fmt.Printf("  cell %3d: %d spikes, %.3f spikes/s, auc %.3f\n", s.Cell, s.Spikes, s.RatePerSec, s.AUC)
	}

	if *savePath != "" {
		if err := arr.Write(fsys, *savePath); err != nil {
			fmt.Fprintf(os.Stderr, "persisting array: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("aligned array saved to %s\n", *savePath)
	}
	if *figurePath != "" {
		if err := report.FovFigure(arr, opts, *figurePath); err != nil {
			fmt.Fprintf(os.Stderr, "rendering figure: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("figure saved to %s\n", *figurePath)
	}
}

// allEpochs reassembles full-recording rows so the summary covers every
// frame regardless of epoch.
func allEpochs(arr *align.Array) [][]align.Sample {
	rows := make([][]align.Sample, arr.Cells)
	for c := 0; c < arr.Cells; c++ {
		row := make([]align.Sample, arr.Frames)
		for f := 0; f < arr.Frames; f++ {
			row[f] = arr.At(arr.EpochAt(f), c, f)
		}
		rows[c] = row
	}
	return rows
}

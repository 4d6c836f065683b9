// Command cohort runs the batch analysis: discover FOV recordings under a
// folder root, align each against its analog trace, persist the aligned
// arrays and emit the cohort-level stats and report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/pblab-data/caflow/internal/cohort"
	"github.com/pblab-data/caflow/internal/cohortdb"
	"github.com/pblab-data/caflow/internal/config"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/posthoc"
	"github.com/pblab-data/caflow/internal/report"
	"github.com/pblab-data/caflow/internal/version"
)

func main() {
	configPath := flag.String("config", "", "JSON analysis config (flags override file values)")
	root := flag.String("root", "", "Folder root to scan for recordings")
	pattern := flag.String("glob", "", "Results-file pattern, e.g. \"*results.npz\"")
	dbPath := flag.String("db", "", "Cohort sqlite database path")
	outDir := flag.String("out", "", "Report output directory")
	workers := flag.Int("workers", 0, "Worker pool size (0 = NumCPU)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
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
	if *root != "" {
		cfg.FolderRoot = root
	}
	if *pattern != "" {
		cfg.Glob = pattern
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *outDir != "" {
		cfg.OutDir = outDir
	}
	if *workers > 0 {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	fsys := fsutil.OSFileSystem{}
	if err := fsys.MkdirAll(cfg.GetOutDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating output dir: %v\n", err)
		os.Exit(1)
	}

	db, err := cohortdb.Open(cfg.GetDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening cohort db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := cohort.NewRunner(cfg, fsys, db).Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cohort run: %v\n", err)
		os.Exit(1)
	}

	for _, fe := range sum.Errors {
		fmt.Fprintf(os.Stderr, "fov %s [%s]: %v\n", fe.Fov, fe.Kind, fe.Err)
	}
	fmt.Printf("run %s: %d FOVs, %d done, %d skipped, %d no-data, %d failed\n",
		sum.RunID, sum.State.Total, sum.State.Done, sum.State.Skipped,
		sum.State.NoData, sum.State.Failed)

	if len(sum.Arrays) == 0 {
		fmt.Println("no aligned arrays; skipping report")
		return
	}

	cohortArr, err := cohort.Aggregate(sum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregating: %v\n", err)
		os.Exit(1)
	}

	opts := dffstats.SpikeOptions{Thresh: cfg.GetSpikeThresh(), MinDist: cfg.GetSpikeMinDist()}
	stats := report.BuildEpochStats(cohortArr, opts)
	occStats := report.BuildOcclusionStats(cohortArr, opts, cfg.GetFramesBeforeStim(), cfg.GetEpochLenFrames())
	invalid := report.InvalidCellSet(cohortArr, cfg.InvalidCells)
	cmps := map[report.Metric]*posthoc.Comparison{
		report.MetricAUC:       report.Compare(stats, report.MetricAUC, invalid),
		report.MetricRate:      report.Compare(stats, report.MetricRate, invalid),
		report.MetricOcclusion: report.CompareOcclusion(occStats, invalid),
	}

	if err := writeFile(filepath.Join(cfg.GetOutDir(), "stats.csv"), func(f *os.File) error {
		return report.WriteStatsCSV(f, stats)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "writing stats: %v\n", err)
		os.Exit(1)
	}
	if err := writeFile(filepath.Join(cfg.GetOutDir(), "occlusion.csv"), func(f *os.File) error {
		return report.WriteOcclusionCSV(f, occStats)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "writing occlusion stats: %v\n", err)
		os.Exit(1)
	}
	if err := writeFile(filepath.Join(cfg.GetOutDir(), "posthoc.csv"), func(f *os.File) error {
		return report.WriteComparisonsCSV(f, cmps)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "writing comparisons: %v\n", err)
		os.Exit(1)
	}
	if err := writeFile(filepath.Join(cfg.GetOutDir(), "report.html"), func(f *os.File) error {
		return report.CohortHTML(f, cohortArr, stats, cmps, opts)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "writing report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("report written to %s\n", cfg.GetOutDir())
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

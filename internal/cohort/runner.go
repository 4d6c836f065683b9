package cohort

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/cohortdb"
	"github.com/pblab-data/caflow/internal/config"
	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/monitoring"
	"github.com/pblab-data/caflow/internal/trace"
)

// FovError is one per-FOV failure. Failures never abort the run; they are
// collected, logged and written to the run database.
type FovError struct {
	Fov  string
	Kind string
	Err  error
}

// State is the running tally of the batch. Guarded by the runner mutex.
type State struct {
	Total   int
	Done    int
	Skipped int
	NoData  int
	Failed  int
}

// Summary is what a finished run hands back: the aligned arrays ready for
// concatenation plus the error ledger.
type Summary struct {
	RunID  string
	State  State
	Arrays []*align.Array
	Errors []FovError
}

// Runner fans the per-FOV pipeline out across a worker pool. Construction
// wires the filesystem and the optional run database; Run does the work.
type Runner struct {
	cfg  *config.AnalysisConfig
	fsys fsutil.FileSystem
	db   *cohortdb.DB

	mu     sync.Mutex
	state  State
	arrays []*align.Array
	errs   []FovError
}

// NewRunner builds a runner. db may be nil when no run bookkeeping is
// wanted, e.g. in the single-FOV tool.
func NewRunner(cfg *config.AnalysisConfig, fsys fsutil.FileSystem, db *cohortdb.DB) *Runner {
	return &Runner{cfg: cfg, fsys: fsys, db: db}
}

// Run discovers the FOVs under the configured root and processes them.
// Cancelling ctx stops dispatching new FOVs; in-flight FOVs finish and are
// counted. The returned error covers setup failures only, never per-FOV
// ones.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	root := r.cfg.GetFolderRoot()
	pattern := r.cfg.GetGlob()

	jobs, err := Discover(r.fsys, root, pattern)
	if err != nil {
		return nil, err
	}

	runID := ""
	if r.db != nil {
		runID, err = r.db.StartRun(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("starting run: %w", err)
		}
	}

	r.mu.Lock()
	r.state = State{Total: len(jobs)}
	r.arrays = nil
	r.errs = nil
	r.mu.Unlock()

	monitoring.Logf("cohort run %s: %d FOVs under %s", runID, len(jobs), root)

	workers := r.cfg.GetWorkers()
	if workers > len(jobs) && len(jobs) > 0 {
		workers = len(jobs)
	}

	queue := make(chan Job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				r.record(runID, job, r.process(runID, job))
			}
		}()
	}

dispatch:
	for _, job := range jobs {
		// select picks among ready cases at random; check cancellation
		// first or an idle worker could still draw one more job after an
		// interrupt.
		if ctx.Err() != nil {
			break dispatch
		}
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- job:
		}
	}
	if ctx.Err() != nil {
		monitoring.Logf("cohort run %s: interrupted, waiting for in-flight FOVs", runID)
	}
	close(queue)
	wg.Wait()

	r.mu.Lock()
	sum := &Summary{RunID: runID, State: r.state, Arrays: r.arrays, Errors: r.errs}
	r.mu.Unlock()

	if r.db != nil {
		if err := r.db.FinishRun(runID, sum.State.Total, sum.State.Failed); err != nil {
			return sum, fmt.Errorf("finishing run: %w", err)
		}
	}
	monitoring.Logf("cohort run %s: %d done, %d skipped, %d no-data, %d failed",
		runID, sum.State.Done, sum.State.Skipped, sum.State.NoData, sum.State.Failed)
	return sum, nil
}

// outcome is the result of processing one FOV.
type outcome struct {
	fov    string
	status cohortdb.FovStatus
	arr    *align.Array
	err    error
}

// process runs the full pipeline for one FOV. An existing aligned array is
// loaded instead of recomputed, so re-running a cohort is cheap and never
// rewrites output.
func (r *Runner) process(runID string, job Job) outcome {
	fov := fovName(job.ResultsPath)

	if r.fsys.Exists(job.ArrayPath) {
		arr, err := align.Read(r.fsys, job.ArrayPath)
		if err != nil {
			return outcome{fov: fov, status: cohortdb.FovStatusFailed,
				err: fmt.Errorf("reading persisted array: %w", err)}
		}
		return outcome{fov: arr.Meta.ID.String(), status: cohortdb.FovStatusSkipped, arr: arr}
	}

	if job.AnalogPath == "" {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed,
			err: fmt.Errorf("%s: %w", job.ResultsPath, ErrMissingInputFile)}
	}

	res, err := trace.ReadResults(job.ResultsPath)
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}

	meta, err := metadata.Resolve(job.ResultsPath, r.cfg.GetFPS(), r.cfg.GetStartTime(), res.Frames(), 1)
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}
	fov = meta.ID.String()

	raw, err := r.fsys.ReadFile(job.AnalogPath)
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}
	analogTrace, err := trace.ReadAnalog(bytes.NewReader(raw))
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}

	act := analog.Threshold(analogTrace, analog.ThresholdOptions{Level: r.cfg.GetVoltageThresh()})
	tb, err := analog.NewTimebase(r.cfg.GetAnalogRate(), r.cfg.GetStartTime(), analogTrace.Len())
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}
	labels, err := analog.LabelFrames(act, meta.Timestamps, tb,
		analog.LabelOptions{MinBoutSamples: r.cfg.GetMinBoutSamples()})
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}

	fused, err := align.Fuse(res.DFF, labels, align.Meta{
		ID:         meta.ID,
		FPS:        meta.FPS,
		StimWindow: r.cfg.GetStimWindow(),
		Timestamps: meta.Timestamps,
	})
	if err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}
	if fused.NoData {
		return outcome{fov: fov, status: cohortdb.FovStatusNoData}
	}

	if err := fused.Array.Write(r.fsys, job.ArrayPath); err != nil {
		return outcome{fov: fov, status: cohortdb.FovStatusFailed, err: err}
	}

	if r.db != nil {
		opts := dffstats.SpikeOptions{Thresh: r.cfg.GetSpikeThresh(), MinDist: r.cfg.GetSpikeMinDist()}
		for _, e := range analog.Epochs() {
			rows := dffstats.Summarize(fused.Array.Slice(e), meta.FPS, opts)
			if err := r.db.InsertEpochStats(runID, fov, e.String(), rows); err != nil {
				return outcome{fov: fov, status: cohortdb.FovStatusFailed, arr: fused.Array,
					err: fmt.Errorf("storing epoch stats: %w", err)}
			}
		}
	}

	return outcome{fov: fov, status: cohortdb.FovStatusDone, arr: fused.Array}
}

// record folds an outcome into the shared state and the run database.
func (r *Runner) record(runID string, job Job, out outcome) {
	r.mu.Lock()
	switch out.status {
	case cohortdb.FovStatusDone:
		r.state.Done++
	case cohortdb.FovStatusSkipped:
		r.state.Skipped++
	case cohortdb.FovStatusNoData:
		r.state.NoData++
	case cohortdb.FovStatusFailed:
		r.state.Failed++
		r.errs = append(r.errs, FovError{Fov: out.fov, Kind: kindOf(out.err), Err: out.err})
	}
	if out.arr != nil && out.status != cohortdb.FovStatusFailed {
		r.arrays = append(r.arrays, out.arr)
	}
	r.mu.Unlock()

	if out.err != nil {
		monitoring.Logf("fov %s: %v", out.fov, out.err)
	}

	if r.db == nil {
		return
	}
	cells, frames := 0, 0
	if out.arr != nil {
		cells, frames = out.arr.Cells, out.arr.Frames
	}
	id := metadata.FovID{}
	if out.arr != nil {
		id = out.arr.Meta.ID
	}
	if err := r.db.RecordFov(runID, out.fov, id, cells, frames, out.status, job.ArrayPath); err != nil {
		monitoring.Logf("fov %s: recording outcome: %v", out.fov, err)
	}
	if out.err != nil {
		if err := r.db.RecordError(runID, out.fov, kindOf(out.err), out.err.Error()); err != nil {
			monitoring.Logf("fov %s: recording error: %v", out.fov, err)
		}
	}
}

// fovName is the fallback display name before metadata resolution.
func fovName(resultsPath string) string {
	return filepath.Base(resultsPath)
}

// LoadArrays reads every persisted aligned array under root.
func LoadArrays(fsys fsutil.FileSystem, root string) ([]*align.Array, error) {
	paths, err := fsys.Glob(root, "*"+align.FileExtension)
	if err != nil {
		return nil, err
	}
	arrays := make([]*align.Array, 0, len(paths))
	for _, p := range paths {
		arr, err := align.Read(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		arrays = append(arrays, arr)
	}
	return arrays, nil
}

// Aggregate stacks the per-FOV arrays of a finished run into the cohort
// view. Arrays already present on disk before the run participate exactly
// once: the runner loads them as skipped FOVs instead of recomputing.
func Aggregate(sum *Summary) (*align.Cohort, error) {
	if len(sum.Arrays) == 0 {
		return nil, fmt.Errorf("run produced no aligned arrays")
	}
	return align.Concat(sum.Arrays)
}

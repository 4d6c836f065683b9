// Package cohort discovers FOV recordings under a folder root, fans the
// per-FOV pipeline out across a worker pool and concatenates the aligned
// results into the cohort array.
package cohort

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pblab-data/caflow/internal/align"
	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/trace"
)

// ErrMissingInputFile reports a FOV whose companion analog file could not
// be found next to the results archive.
var ErrMissingInputFile = errors.New("companion input file missing")

// Job is one discovered FOV: the segmentation results archive plus its
// companion analog trace. AnalogPath is empty when the companion is
// missing; the runner records that as a per-FOV error.
type Job struct {
	ResultsPath string
	AnalogPath  string
	ArrayPath   string // persisted aligned-array target
}

// Discover walks root for results archives matching pattern and pairs each
// with its companion analog file. The companion is the sibling whose name
// swaps the results suffix for "analog.txt", with a directory-wide
// fallback for recordings that predate the strict convention.
func Discover(fsys fsutil.FileSystem, root, pattern string) ([]Job, error) {
	if !fsys.Exists(root) {
		return nil, fmt.Errorf("folder root %s does not exist", root)
	}
	if _, err := filepath.Match(pattern, "x"); err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	results, err := fsys.Glob(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("discovering results files: %w", err)
	}

	jobs := make([]Job, 0, len(results))
	for _, res := range results {
		jobs = append(jobs, Job{
			ResultsPath: res,
			AnalogPath:  findCompanion(fsys, res),
			ArrayPath:   strings.TrimSuffix(res, filepath.Ext(res)) + align.FileExtension,
		})
	}
	return jobs, nil
}

func findCompanion(fsys fsutil.FileSystem, resultsPath string) string {
	base := filepath.Base(resultsPath)
	dir := filepath.Dir(resultsPath)

	if strings.HasSuffix(base, "results.npz") {
		cand := filepath.Join(dir, strings.TrimSuffix(base, "results.npz")+"analog.txt")
		if fsys.Exists(cand) {
			return cand
		}
	}

	// Fallback: any analog file in the directory sharing the FOV token.
	cands, err := fsys.Glob(dir, "*analog.txt")
	if err != nil || len(cands) == 0 {
		return ""
	}
	if tok := fovToken(base); tok != "" {
		for _, c := range cands {
			if strings.Contains(strings.ToUpper(filepath.Base(c)), strings.ToUpper(tok)) {
				return c
			}
		}
		// A FOV token with no matching analog file is a missing companion,
		// not an invitation to grab an unrelated one.
		return ""
	}
	if len(cands) == 1 {
		return cands[0]
	}
	return ""
}

// fovToken extracts the "FOV_n" token used to pair companion files.
func fovToken(name string) string {
	upper := strings.ToUpper(name)
	i := strings.Index(upper, "FOV")
	if i < 0 {
		return ""
	}
	j := i + 3
	for j < len(name) && (name[j] == '_' || name[j] == '-') {
		j++
	}
	k := j
	for k < len(name) && name[k] >= '0' && name[k] <= '9' {
		k++
	}
	if k == j {
		return ""
	}
	return name[i:k]
}

// kindOf maps a per-FOV failure onto its error-log family.
func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrMissingInputFile):
		return "missing_input"
	case errors.Is(err, trace.ErrMalformedTrace):
		return "malformed_trace"
	case errors.Is(err, analog.ErrTimebaseMismatch):
		return "timebase_mismatch"
	case errors.Is(err, align.ErrPersistenceConflict):
		return "persistence_conflict"
	default:
		return "internal"
	}
}

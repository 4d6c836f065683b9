// Package metadata derives per-FOV acquisition parameters from recording
// filenames and the analysis configuration.
package metadata

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FovID identifies one recorded field of view within a cohort.
type FovID struct {
	Mouse     string
	Fov       int
	Condition string
	Day       int
}

// String renders the identity in the canonical file-naming form.
func (id FovID) String() string {
	return fmt.Sprintf("%s_FOV_%d_%s_DAY_%d", id.Mouse, id.Fov, id.Condition, id.Day)
}

// Fluo describes one fluorescence recording: identity, timing and geometry.
type Fluo struct {
	ID          FovID
	FPS         float64   // imaging frame rate, Hz
	StartTime   float64   // imaging start offset against the analog clock, seconds
	NumChannels int       // recorded imaging channels
	Timestamps  []float64 // per-frame absolute timestamps, seconds
	SourcePath  string    // the recording this metadata was derived from
}

var (
	fovRe   = regexp.MustCompile(`(?i)FOV[_-]?(\d+)`)
	dayRe   = regexp.MustCompile(`(?i)DAY[_-]?(\d+)`)
	mouseRe = regexp.MustCompile(`^(\d+)`)
	condRe  = regexp.MustCompile(`(?i)(HYPER|HYPO)`)
)

// Resolve parses the FOV identity out of a recording path and builds the
// per-frame timestamp vector for the given frame count. fps and the start
// offset come from configuration; frames from the fluorescence tensor.
//
// Recognized filename tokens, anywhere in the path: a leading mouse number,
// FOV_n, DAY_n and a HYPER/HYPO condition marker. Missing tokens fall back
// to neutral values rather than failing, since older recordings predate the
// naming convention.
func Resolve(path string, fps, startTime float64, frames, channels int) (*Fluo, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("frame rate must be positive, got %f", fps)
	}
	if frames < 0 {
		return nil, fmt.Errorf("frame count must be non-negative, got %d", frames)
	}
	if channels < 1 {
		channels = 1
	}

	id := parseID(path)

	ts := make([]float64, frames)
	for i := range ts {
		ts[i] = float64(i)/fps + startTime
	}

	return &Fluo{
		ID:          id,
		FPS:         fps,
		StartTime:   startTime,
		NumChannels: channels,
		Timestamps:  ts,
		SourcePath:  path,
	}, nil
}

// parseID extracts identity tokens from the full path, searching the file
// name first and then parent directories.
func parseID(path string) FovID {
	id := FovID{Mouse: "unknown", Fov: 1, Condition: "none", Day: 0}

	base := filepath.Base(path)
	if m := mouseRe.FindStringSubmatch(base); m != nil {
		id.Mouse = m[1]
	} else {
		// Some cohorts put the mouse number on the day directory instead.
		for dir := filepath.Dir(path); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
			if m := mouseRe.FindStringSubmatch(filepath.Base(dir)); m != nil {
				id.Mouse = m[1]
				break
			}
		}
	}

	if m := fovRe.FindStringSubmatch(path); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			id.Fov = v
		}
	}
	if m := dayRe.FindStringSubmatch(path); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			id.Day = v
		}
	}
	if m := condRe.FindStringSubmatch(path); m != nil {
		id.Condition = strings.ToUpper(m[1])
	}
	return id
}

// Validate checks the invariants every consumer of Fluo relies on:
// timestamps monotonic non-decreasing and one per frame.
func (f *Fluo) Validate(frames int) error {
	if len(f.Timestamps) != frames {
		return fmt.Errorf("timestamp count %d does not match frame count %d", len(f.Timestamps), frames)
	}
	for i := 1; i < len(f.Timestamps); i++ {
		if f.Timestamps[i] < f.Timestamps[i-1] {
			return fmt.Errorf("timestamps not monotonic at frame %d: %f < %f", i, f.Timestamps[i], f.Timestamps[i-1])
		}
	}
	return nil
}

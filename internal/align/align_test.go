package align

import (
	"errors"
	"testing"

	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/metadata"
)

func testMeta() Meta {
	return Meta{
		ID:         metadata.FovID{Mouse: "147", Fov: 3, Condition: "HYPER", Day: 14},
		FPS:        15.24,
		StimWindow: 1.5,
		Timestamps: []float64{0, 0.0656, 0.1312, 0.1969},
	}
}

func testLabels() []analog.Label {
	return []analog.Label{
		{Loco: analog.Stand, Stim: analog.Spont},
		{Loco: analog.Run, Stim: analog.Spont},
		{Loco: analog.Run, Stim: analog.Stim},
		{Loco: analog.Stand, Stim: analog.Juxta, Occluded: true},
	}
}

func testDFF() [][]float64 {
	return [][]float64{
		{0, 0.5, 0.9, 0},
		{0.1, 0, 0, 0.3},
	}
}

func TestFusePartitionInvariant(t *testing.T) {
	res, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.NoData {
		t.Fatal("unexpected NoData")
	}
	a := res.Array
	if err := a.CheckPartition(); err != nil {
		t.Fatalf("CheckPartition: %v", err)
	}

	// Sum of present indicators across epoch slices is exactly 1 per
	// (cell, frame).
	for c := 0; c < a.Cells; c++ {
		for f := 0; f < a.Frames; f++ {
			n := 0
			for _, e := range analog.Epochs() {
				if a.At(e, c, f).Present {
					n++
				}
			}
			if n != 1 {
				t.Errorf("cell %d frame %d present in %d epochs", c, f, n)
			}
		}
	}
}

func TestFuseMissingIsNotZero(t *testing.T) {
	res, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatal(err)
	}
	a := res.Array

	// Frame 0 is stand_spont; its value in the run_stim slice is missing,
	// even though the measured value there happens to be 0.
	s := a.At(analog.RunStim, 0, 0)
	if s.Present {
		t.Error("frame outside epoch must be missing")
	}
	// Frame 0 in its own epoch is present with value 0: measured zero.
	s = a.At(analog.StandSpont, 0, 0)
	if !s.Present || s.Value != 0 {
		t.Errorf("measured zero must be present: %+v", s)
	}
}

func TestFuseNoCells(t *testing.T) {
	res, err := Fuse([][]float64{}, nil, testMeta())
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if !res.NoData || res.Array != nil {
		t.Errorf("expected NoData result, got %+v", res)
	}
}

func TestFuseLabelCountMismatch(t *testing.T) {
	if _, err := Fuse(testDFF(), testLabels()[:2], testMeta()); err == nil {
		t.Error("expected error for label/frame mismatch")
	}
}

func TestNewRejectsExcessTimestamps(t *testing.T) {
	meta := testMeta()
	meta.Timestamps = append(meta.Timestamps, 0.2625)
	if _, err := Fuse(testDFF(), testLabels(), meta); err == nil {
		t.Error("expected error for more timestamps than frames")
	}
}

func TestSliceUniformLength(t *testing.T) {
	res, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range analog.Epochs() {
		slice := res.Array.Slice(e)
		if len(slice) != 2 {
			t.Fatalf("epoch %v slice has %d cells", e, len(slice))
		}
		for c, row := range slice {
			if len(row) != 4 {
				t.Errorf("epoch %v cell %d has %d frames, want 4", e, c, len(row))
			}
		}
	}
	// run_stim holds exactly frame 2.
	frames := res.Array.ValidFrames(analog.RunStim)
	if len(frames) != 1 || frames[0] != 2 {
		t.Errorf("ValidFrames(run_stim) = %v", frames)
	}
}

func TestPersistRoundTrip(t *testing.T) {
	res, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatal(err)
	}
	a := res.Array

	fsys := fsutil.NewMemoryFileSystem()
	path := "/out/147_FOV_3.caarr"
	if err := a.Write(fsys, path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(fsys, path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Cells != a.Cells || got.Frames != a.Frames {
		t.Fatalf("shape %dx%d, want %dx%d", got.Cells, got.Frames, a.Cells, a.Frames)
	}
	if got.Meta.ID != a.Meta.ID {
		t.Errorf("ID = %+v, want %+v", got.Meta.ID, a.Meta.ID)
	}
	if got.Meta.FPS != 15.24 || got.Meta.StimWindow != 1.5 {
		t.Errorf("attrs = %v / %v", got.Meta.FPS, got.Meta.StimWindow)
	}
	for c := 0; c < a.Cells; c++ {
		for f := 0; f < a.Frames; f++ {
			for _, e := range analog.Epochs() {
				if got.At(e, c, f) != a.At(e, c, f) {
					t.Fatalf("sample mismatch at epoch %v cell %d frame %d", e, c, f)
				}
			}
		}
	}
	if got.Occluded == nil || !got.Occluded[3] || got.Occluded[0] {
		t.Errorf("occlusion flags = %v", got.Occluded)
	}
	if err := got.CheckPartition(); err != nil {
		t.Errorf("decoded partition: %v", err)
	}
}

func TestWriteIfAbsent(t *testing.T) {
	res, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatal(err)
	}
	fsys := fsutil.NewMemoryFileSystem()
	path := "/out/a.caarr"
	if err := res.Array.Write(fsys, path); err != nil {
		t.Fatal(err)
	}
	before, _ := fsys.ReadFile(path)

	err = res.Array.Write(fsys, path)
	if !errors.Is(err, ErrPersistenceConflict) {
		t.Errorf("second write err = %v, want ErrPersistenceConflict", err)
	}
	after, _ := fsys.ReadFile(path)
	if string(before) != string(after) {
		t.Error("existing file was modified")
	}
}

func TestConcatPadsTime(t *testing.T) {
	short, err := Fuse([][]float64{{0.1, 0.2}}, []analog.Label{
		{Loco: analog.Run, Stim: analog.Spont},
		{Loco: analog.Run, Stim: analog.Spont},
	}, testMeta())
	if err != nil {
		t.Fatal(err)
	}
	long, err := Fuse(testDFF(), testLabels(), testMeta())
	if err != nil {
		t.Fatal(err)
	}

	cohort, err := Concat([]*Array{short.Array, long.Array})
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if cohort.Frames != 4 || cohort.Cells() != 3 {
		t.Fatalf("cohort shape %d cells x %d frames", cohort.Cells(), cohort.Frames)
	}

	slice := cohort.Slice(analog.RunSpont)
	if len(slice) != 3 {
		t.Fatalf("slice has %d rows", len(slice))
	}
	// The short FOV's padded frames are missing, not zero.
	if slice[0][2].Present || slice[0][3].Present {
		t.Error("padded frames must be missing")
	}
	if !slice[0][0].Present || slice[0][0].Value != 0.1 {
		t.Errorf("short FOV frame 0 = %+v", slice[0][0])
	}

	refs := cohort.CellRefs()
	if len(refs) != 3 || refs[0].Cell != 0 || refs[2].Cell != 1 {
		t.Errorf("CellRefs = %+v", refs)
	}
}

func TestConcatEmpty(t *testing.T) {
	if _, err := Concat(nil); err == nil {
		t.Error("expected error for empty concat")
	}
}

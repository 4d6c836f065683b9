package align

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pblab-data/caflow/internal/analog"
	"github.com/pblab-data/caflow/internal/fsutil"
	"github.com/pblab-data/caflow/internal/metadata"
)

// ErrPersistenceConflict reports an attempt to overwrite an existing
// aligned-array file. Persisted arrays are append-only per FOV: the batch
// aggregator logs the conflict and skips, it never clobbers.
var ErrPersistenceConflict = errors.New("aligned array already persisted")

// FileExtension is the extension for persisted aligned arrays.
const FileExtension = ".caarr"

const (
	fileMagic   = "CAARR"
	fileVersion = 1
)

// fileHeader is the self-describing JSON prefix of a persisted array. It
// names every axis so a file can be interpreted without this codebase.
type fileHeader struct {
	Version    int      `json:"version"`
	EpochNames []string `json:"epoch"` // axis: epoch, canonical order
	Cells      int      `json:"neuron"`
	Frames     int      `json:"time"`
	MouseID    string   `json:"mouse_id"`
	Fov        int      `json:"fov"`
	Condition  string   `json:"condition"`
	Day        int      `json:"day"`
	FPS        float64  `json:"fps"`
	StimWindow float64  `json:"stim_window"`
	Occlusion  bool     `json:"occlusion"`
}

// Encode serializes the array: magic, header length, JSON header, then the
// binary payload (per-frame epoch bytes, optional occlusion bytes,
// per-frame timestamps, cell x frame dF/F values, all little-endian).
func (a *Array) Encode() ([]byte, error) {
	names := make([]string, 0, analog.NumEpochs)
	for _, e := range analog.Epochs() {
		names = append(names, e.String())
	}
	hdr := fileHeader{
		Version:    fileVersion,
		EpochNames: names,
		Cells:      a.Cells,
		Frames:     a.Frames,
		MouseID:    a.Meta.ID.Mouse,
		Fov:        a.Meta.ID.Fov,
		Condition:  a.Meta.ID.Condition,
		Day:        a.Meta.ID.Day,
		FPS:        a.Meta.FPS,
		StimWindow: a.Meta.StimWindow,
		Occlusion:  a.Occluded != nil,
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(fileMagic)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(hdrJSON))); err != nil {
		return nil, err
	}
	buf.Write(hdrJSON)

	for _, e := range a.epochs {
		buf.WriteByte(byte(e))
	}
	if a.Occluded != nil {
		for _, o := range a.Occluded {
			if o {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	for _, ts := range a.Meta.Timestamps {
		if err := binary.Write(&buf, binary.LittleEndian, ts); err != nil {
			return nil, err
		}
	}
	// Timestamps are optional; pad with NaN when the metadata had none so
	// the payload layout stays fixed.
	for i := len(a.Meta.Timestamps); i < a.Frames; i++ {
		if err := binary.Write(&buf, binary.LittleEndian, math.NaN()); err != nil {
			return nil, err
		}
	}
	for _, row := range a.data {
		if err := binary.Write(&buf, binary.LittleEndian, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Write persists the array with write-if-absent semantics.
func (a *Array) Write(fsys fsutil.FileSystem, path string) error {
	if fsys.Exists(path) {
		return fmt.Errorf("%w: %s", ErrPersistenceConflict, path)
	}
	data, err := a.Encode()
	if err != nil {
		return fmt.Errorf("encoding aligned array: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing aligned array %s: %w", path, err)
	}
	return nil
}

// Read loads a persisted aligned array.
func Read(fsys fsutil.FileSystem, path string) (*Array, error) {
	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aligned array %s: %w", path, err)
	}
	return Decode(raw)
}

// Decode parses the bytes produced by Encode.
func Decode(raw []byte) (*Array, error) {
	r := bytes.NewReader(raw)

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		return nil, fmt.Errorf("not an aligned-array file")
	}
	var hdrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hdrLen); err != nil {
		return nil, fmt.Errorf("truncated header length: %w", err)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrJSON); err != nil {
		return nil, fmt.Errorf("truncated header: %w", err)
	}
	var hdr fileHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if hdr.Version != fileVersion {
		return nil, fmt.Errorf("unsupported aligned-array version %d", hdr.Version)
	}

	epochs := make([]analog.Epoch, hdr.Frames)
	for i := range epochs {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated epoch labels: %w", err)
		}
		epochs[i] = analog.Epoch(b)
	}

	var occluded []bool
	if hdr.Occlusion {
		occluded = make([]bool, hdr.Frames)
		for i := range occluded {
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("truncated occlusion flags: %w", err)
			}
			occluded[i] = b != 0
		}
	}

	timestamps := make([]float64, hdr.Frames)
	if err := binary.Read(r, binary.LittleEndian, timestamps); err != nil {
		return nil, fmt.Errorf("truncated timestamps: %w", err)
	}

	data := make([][]float64, hdr.Cells)
	for c := range data {
		row := make([]float64, hdr.Frames)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("truncated dF/F payload at cell %d: %w", c, err)
		}
		data[c] = row
	}

	meta := Meta{
		ID: metadata.FovID{
			Mouse:     hdr.MouseID,
			Fov:       hdr.Fov,
			Condition: hdr.Condition,
			Day:       hdr.Day,
		},
		FPS:        hdr.FPS,
		StimWindow: hdr.StimWindow,
		Timestamps: timestamps,
	}
	return New(data, epochs, occluded, meta)
}

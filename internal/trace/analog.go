// Package trace reads the two external inputs of the pipeline: the delimited
// analog trace file recorded by the DAQ and the NPZ result archive written by
// the segmentation tool.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedTrace reports an analog trace file the pipeline cannot use:
// ragged rows, non-numeric cells or a channel with no finite values at all.
var ErrMalformedTrace = errors.New("malformed analog trace")

// RawAnalogTrace holds the synchronized analog channels for one recording,
// all sampled at the same fixed analog rate. Stimulus and Run are always
// present; Juxta and Occluder only when the recording carried those channels.
type RawAnalogTrace struct {
	Stimulus []float64 // air-puff stimulus channel
	Run      []float64 // running-wheel channel
	Juxta    []float64 // juxtaposed-puff channel, nil if absent
	Occluder []float64 // vascular-occluder channel, nil if absent
}

// Len returns the number of analog samples.
func (t *RawAnalogTrace) Len() int { return len(t.Stimulus) }

// Channels returns the recorded channels in column order with their names.
func (t *RawAnalogTrace) Channels() (names []string, chans [][]float64) {
	names = []string{"stimulus", "run"}
	chans = [][]float64{t.Stimulus, t.Run}
	if t.Juxta != nil {
		names = append(names, "juxta")
		chans = append(chans, t.Juxta)
	}
	if t.Occluder != nil {
		names = append(names, "occluder")
		chans = append(chans, t.Occluder)
	}
	return names, chans
}

// ReadAnalog parses a headerless delimited analog trace. Columns are, in
// order: stimulus, run, juxta, occluder; the last two are optional. Tab,
// comma and whitespace delimiters are all accepted since different DAQ
// export settings produced all three over the years.
func ReadAnalog(r io.Reader) (*RawAnalogTrace, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var cols int
	var data [][]float64
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := splitRow(text)
		if cols == 0 {
			cols = len(fields)
			if cols < 2 {
				return nil, fmt.Errorf("%w: need at least 2 columns, got %d on line %d", ErrMalformedTrace, cols, line)
			}
			if cols > 4 {
				cols = 4 // trailing DAQ monitor columns are ignored
			}
			data = make([][]float64, cols)
		}
		if len(fields) < cols {
			return nil, fmt.Errorf("%w: line %d has %d columns, expected %d", ErrMalformedTrace, line, len(fields), cols)
		}
		for i := 0; i < cols; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %d: %v", ErrMalformedTrace, line, i+1, err)
			}
			data[i] = append(data[i], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading analog trace: %w", err)
	}
	if cols == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedTrace)
	}

	for i, ch := range data {
		if !anyFinite(ch) {
			return nil, fmt.Errorf("%w: column %d holds no finite values", ErrMalformedTrace, i+1)
		}
	}

	out := &RawAnalogTrace{Stimulus: data[0], Run: data[1]}
	if cols > 2 {
		out.Juxta = data[2]
	}
	if cols > 3 {
		out.Occluder = data[3]
	}
	return out, nil
}

func splitRow(s string) []string {
	if strings.ContainsRune(s, '\t') {
		return strings.Split(s, "\t")
	}
	if strings.ContainsRune(s, ',') {
		return strings.Split(s, ",")
	}
	return strings.Fields(s)
}

func anyFinite(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

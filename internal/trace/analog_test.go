package trace

import (
	"errors"
	"strings"
	"testing"
)

func TestReadAnalogTabDelimited(t *testing.T) {
	in := "0\t0.1\n5\t0.2\n0\t4.9\n"
	tr, err := ReadAnalog(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAnalog: %v", err)
	}
	if tr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tr.Len())
	}
	if tr.Stimulus[1] != 5 || tr.Run[2] != 4.9 {
		t.Errorf("unexpected values: %+v", tr)
	}
	if tr.Juxta != nil || tr.Occluder != nil {
		t.Error("optional channels should be nil for 2-column input")
	}
}

func TestReadAnalogCommaWithOptionalChannels(t *testing.T) {
	in := "0,0,0,0\n5,0,5,1\n0,5,0,1\n"
	tr, err := ReadAnalog(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAnalog: %v", err)
	}
	names, chans := tr.Channels()
	if len(names) != 4 || names[2] != "juxta" || names[3] != "occluder" {
		t.Errorf("Channels names = %v", names)
	}
	for i, ch := range chans {
		if len(ch) != 3 {
			t.Errorf("channel %d has length %d", i, len(ch))
		}
	}
}

func TestReadAnalogWhitespaceDelimited(t *testing.T) {
	in := "0 1\n2 3\n"
	tr, err := ReadAnalog(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAnalog: %v", err)
	}
	if tr.Stimulus[1] != 2 || tr.Run[0] != 1 {
		t.Errorf("unexpected values: %+v", tr)
	}
}

func TestReadAnalogMalformed(t *testing.T) {
	testCases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"single_column", "1\n2\n"},
		{"ragged", "1\t2\n3\n"},
		{"non_numeric", "1\t2\nfoo\t3\n"},
		{"all_nan_channel", "nan\t1\nnan\t2\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadAnalog(strings.NewReader(tc.in))
			if !errors.Is(err, ErrMalformedTrace) {
				t.Errorf("err = %v, want ErrMalformedTrace", err)
			}
		})
	}
}

func TestReadAnalogSkipsBlankLines(t *testing.T) {
	in := "1\t2\n\n3\t4\n"
	tr, err := ReadAnalog(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAnalog: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

// Package analog turns the raw analog channels of a recording into
// per-imaging-frame behavioral labels: it thresholds the channels, detects
// bouts, reconciles the analog clock with the imaging timestamps and emits
// one locomotion/stimulus label per frame.
package analog

import "fmt"

// Locomotion is the frame's locomotion state.
type Locomotion uint8

const (
	Stand Locomotion = iota
	Run
)

func (l Locomotion) String() string {
	if l == Run {
		return "run"
	}
	return "stand"
}

// Stimulus is the frame's stimulus state. Juxta marks a puff delivered next
// to the imaged region rather than on it and wins over plain Stim when both
// channels are active at the same frame.
type Stimulus uint8

const (
	Spont Stimulus = iota
	Stim
	Juxta
)

func (s Stimulus) String() string {
	switch s {
	case Stim:
		return "stim"
	case Juxta:
		return "juxta"
	default:
		return "spont"
	}
}

// Epoch is one cell of the locomotion x stimulus cross product. The six
// values partition every frame: each frame carries exactly one Epoch.
type Epoch uint8

const (
	StandSpont Epoch = iota
	StandStim
	StandJuxta
	RunSpont
	RunStim
	RunJuxta

	// NumEpochs is the size of the partition.
	NumEpochs
)

// Epochs returns all epochs in canonical order.
func Epochs() []Epoch {
	return []Epoch{StandSpont, StandStim, StandJuxta, RunSpont, RunStim, RunJuxta}
}

// EpochOf combines a locomotion and a stimulus state.
func EpochOf(l Locomotion, s Stimulus) Epoch {
	e := Epoch(s)
	if l == Run {
		e += 3
	}
	return e
}

// Locomotion returns the epoch's locomotion component.
func (e Epoch) Locomotion() Locomotion {
	if e >= RunSpont {
		return Run
	}
	return Stand
}

// Stimulus returns the epoch's stimulus component.
func (e Epoch) Stimulus() Stimulus {
	return Stimulus(e % 3)
}

func (e Epoch) String() string {
	if e >= NumEpochs {
		return fmt.Sprintf("epoch(%d)", uint8(e))
	}
	return e.Locomotion().String() + "_" + e.Stimulus().String()
}

// ParseEpoch maps a canonical epoch name back to its value.
func ParseEpoch(name string) (Epoch, error) {
	for _, e := range Epochs() {
		if e.String() == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown epoch name %q", name)
}

// Label is the full behavioral state of one imaging frame. Occlusion is an
// orthogonal flag rather than part of the epoch partition, so occluded and
// unoccluded frames still land in exactly one epoch each.
type Label struct {
	Loco     Locomotion
	Stim     Stimulus
	Occluded bool
}

// Epoch returns the partition cell this label belongs to.
func (l Label) Epoch() Epoch { return EpochOf(l.Loco, l.Stim) }

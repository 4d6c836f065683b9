// Package config loads the analysis configuration shared by the batch
// aggregator and the single-FOV tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AnalysisConfig is the root configuration for a cohort run. All fields are
// pointers so that a partial JSON file only overrides what it mentions; the
// Get* accessors supply defaults for everything else.
type AnalysisConfig struct {
	// Discovery
	FolderRoot *string `json:"folder_root,omitempty"`
	Glob       *string `json:"glob,omitempty"` // results-file pattern, e.g. "*results.npz"

	// Acquisition
	FPS       *float64 `json:"fps,omitempty"`        // frame rate override (Hz)
	StartTime *float64 `json:"start_time,omitempty"` // imaging start offset vs analog clock (s)

	// Analog preprocessing
	AnalogRate     *float64 `json:"analog_rate,omitempty"`      // analog samples per second
	VoltageThresh  *float64 `json:"voltage_thresh,omitempty"`   // active-level crossing
	MinBoutSamples *int     `json:"min_bout_samples,omitempty"` // debounce length in analog samples

	// Stimulus window
	FramesBeforeStim *int `json:"frames_before_stim,omitempty"`
	EpochLenFrames   *int `json:"epoch_len_frames,omitempty"`

	// Spike detection
	SpikeThresh  *float64 `json:"spike_thresh,omitempty"`   // relative height, 0..1
	SpikeMinDist *int     `json:"spike_min_dist,omitempty"` // frames between peaks
	InvalidCells []int    `json:"invalid_cells,omitempty"`  // rows of the concatenated cohort, excluded from comparisons only
	StimWindow   *float64 `json:"stim_window,omitempty"`    // seconds, stored with each array
	Workers      *int     `json:"workers,omitempty"`        // batch fan-out width
	DBPath       *string  `json:"db_path,omitempty"`        // cohort sqlite database
	OutDir       *string  `json:"out_dir,omitempty"`        // report output directory
}

// Load reads an AnalysisConfig from a JSON file and validates it.
// Fields omitted from the file keep their defaults.
func Load(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AnalysisConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that configured values are usable.
func (c *AnalysisConfig) Validate() error {
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %f", *c.FPS)
	}
	if c.AnalogRate != nil && *c.AnalogRate <= 0 {
		return fmt.Errorf("analog_rate must be positive, got %f", *c.AnalogRate)
	}
	if c.SpikeThresh != nil && (*c.SpikeThresh <= 0 || *c.SpikeThresh > 1) {
		return fmt.Errorf("spike_thresh must be in (0, 1], got %f", *c.SpikeThresh)
	}
	if c.SpikeMinDist != nil && *c.SpikeMinDist < 1 {
		return fmt.Errorf("spike_min_dist must be at least 1 frame, got %d", *c.SpikeMinDist)
	}
	if c.MinBoutSamples != nil && *c.MinBoutSamples < 0 {
		return fmt.Errorf("min_bout_samples must be non-negative, got %d", *c.MinBoutSamples)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	for _, cell := range c.InvalidCells {
		if cell < 0 {
			return fmt.Errorf("invalid_cells entries must be non-negative, got %d", cell)
		}
	}
	return nil
}

// GetFolderRoot returns the discovery root or the current directory.
func (c *AnalysisConfig) GetFolderRoot() string {
	if c.FolderRoot == nil || *c.FolderRoot == "" {
		return "."
	}
	return *c.FolderRoot
}

// GetGlob returns the results-file pattern or the default.
func (c *AnalysisConfig) GetGlob() string {
	if c.Glob == nil || *c.Glob == "" {
		return "*results.npz"
	}
	return *c.Glob
}

// GetFPS returns the imaging frame rate or the scope default.
func (c *AnalysisConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 15.24
	}
	return *c.FPS
}

// GetStartTime returns the imaging start offset against the analog clock.
func (c *AnalysisConfig) GetStartTime() float64 {
	if c.StartTime == nil {
		return 0
	}
	return *c.StartTime
}

// GetAnalogRate returns the analog sample rate or the DAQ default.
func (c *AnalysisConfig) GetAnalogRate() float64 {
	if c.AnalogRate == nil {
		return 1000
	}
	return *c.AnalogRate
}

// GetVoltageThresh returns the active-level crossing threshold.
func (c *AnalysisConfig) GetVoltageThresh() float64 {
	if c.VoltageThresh == nil {
		return 2.5
	}
	return *c.VoltageThresh
}

// GetMinBoutSamples returns the debounce length in analog samples.
func (c *AnalysisConfig) GetMinBoutSamples() int {
	if c.MinBoutSamples == nil {
		return 10
	}
	return *c.MinBoutSamples
}

// GetFramesBeforeStim returns the pre-stimulus window length in frames.
func (c *AnalysisConfig) GetFramesBeforeStim() int {
	if c.FramesBeforeStim == nil {
		return 1000
	}
	return *c.FramesBeforeStim
}

// GetEpochLenFrames returns the stimulus epoch length in frames.
func (c *AnalysisConfig) GetEpochLenFrames() int {
	if c.EpochLenFrames == nil {
		return 1000
	}
	return *c.EpochLenFrames
}

// GetSpikeThresh returns the relative peak height threshold.
func (c *AnalysisConfig) GetSpikeThresh() float64 {
	if c.SpikeThresh == nil {
		return 0.65
	}
	return *c.SpikeThresh
}

// GetSpikeMinDist returns the minimum inter-peak distance in frames.
func (c *AnalysisConfig) GetSpikeMinDist() int {
	if c.SpikeMinDist == nil {
		return 7
	}
	return *c.SpikeMinDist
}

// GetStimWindow returns the stimulus window length in seconds.
func (c *AnalysisConfig) GetStimWindow() float64 {
	if c.StimWindow == nil {
		return 1.5
	}
	return *c.StimWindow
}

// GetWorkers returns the batch fan-out width, defaulting to the core count.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers < 1 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetDBPath returns the cohort database path.
func (c *AnalysisConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "cohort.db"
	}
	return *c.DBPath
}

// GetOutDir returns the report output directory.
func (c *AnalysisConfig) GetOutDir() string {
	if c.OutDir == nil || *c.OutDir == "" {
		return "."
	}
	return *c.OutDir
}

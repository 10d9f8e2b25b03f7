// Package session drives a capture session through its trials: one
// calibration trial, an optional static (neutral pose) trial, and any number
// of dynamic trials. It owns the on-disk session layout, the typed
// metadata/settings records, pre-run output cleanup, and partial-result
// salvage on failure.
package session

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/mocap/board"
)

// Metadata is the session-scoped record persisted as sessionMetadata.yaml.
// It is created once, before the first trial runs, and read by every trial
// after that.
type Metadata struct {
	SubjectID     string            `yaml:"subject_id"`
	SubjectMass   float64           `yaml:"subject_mass_kg"`
	SubjectHeight float64           `yaml:"subject_height_m"`
	FrameRate     float64           `yaml:"frame_rate"`
	Checkerboard  CheckerboardMeta  `yaml:"checkerboard"`
	CameraModels  map[string]string `yaml:"camera_models,omitempty"`
	ScaledModel   string            `yaml:"scaled_model,omitempty"`
	// BoardUpsideDown is the session-wide upside-down determination made
	// once by the calibration trial and reused by every later trial's
	// coordinate rotation.
	BoardUpsideDown bool `yaml:"board_upside_down"`
}

// CheckerboardMeta describes the calibration target used for the session.
// Dimensions count interior corners, matching board.Spec.
type CheckerboardMeta struct {
	CornersWidth  int     `yaml:"black2BlackCornersWidth_n"`
	CornersHeight int     `yaml:"black2BlackCornersHeight_n"`
	SquareSizeMM  float64 `yaml:"squareSideLength_mm"`
	Placement     string  `yaml:"placement"`
}

// BoardSpec converts the persisted checkerboard description into a validated
// board.Spec. Unknown placement strings are rejected here, at load time, not
// at first use.
func (m *Metadata) BoardSpec() (*board.Spec, error) {
	placement, err := board.ParsePlacement(m.Checkerboard.Placement)
	if err != nil {
		return nil, err
	}
	spec := &board.Spec{
		Width:        m.Checkerboard.CornersWidth,
		Height:       m.Checkerboard.CornersHeight,
		SquareSizeMM: m.Checkerboard.SquareSizeMM,
		Placement:    placement,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Settings is the per-trial record persisted as Settings_<trial>.yaml. The
// vertical offset is only known once the trial's solve completes, so the
// orchestrator rewrites the record after a successful run.
type Settings struct {
	PoseDetector        string  `yaml:"pose_detector"`
	Resolution          string  `yaml:"resolution"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	FilterFrequencyHz   float64 `yaml:"filter_frequency_hz"`
	VerticalOffsetM     float64 `yaml:"vertical_offset_m"`
}

// LoadMetadata reads a session metadata record, or returns nil when none
// exists yet.
func LoadMetadata(path string) (*Metadata, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error reading session metadata")
	}
	meta := &Metadata{}
	if err := yaml.Unmarshal(data, meta); err != nil {
		return nil, errors.Wrap(err, "error parsing session metadata")
	}
	return meta, nil
}

// Save writes the metadata record.
func (m *Metadata) Save(path string) error {
	return writeYAML(path, m)
}

// LoadSettings reads a trial settings record, or returns nil when none
// exists.
func LoadSettings(path string) (*Settings, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error reading trial settings")
	}
	s := &Settings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "error parsing trial settings")
	}
	return s, nil
}

// Save writes the settings record.
func (s *Settings) Save(path string) error {
	return writeYAML(path, s)
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}

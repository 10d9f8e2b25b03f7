package video

import (
	"image"

	"github.com/pkg/errors"
)

// SyntheticSource is an in-memory FrameSource for tests and synthetic
// calibration scenarios. Frames carry only an index; detection against
// synthetic sources is keyed by index rather than pixel content.
type SyntheticSource struct {
	SourceName string
	Frames     int
	Width      int
	Height     int
	Rot        Rotation
	closed     bool
}

// Name returns the configured source name.
func (s *SyntheticSource) Name() string { return s.SourceName }

// FrameCount returns the configured frame count.
func (s *SyntheticSource) FrameCount() int { return s.Frames }

// StorageSize returns the configured storage dimensions.
func (s *SyntheticSource) StorageSize() (int, int) { return s.Width, s.Height }

// Rotation returns the configured display rotation.
func (s *SyntheticSource) Rotation() Rotation { return s.Rot }

// Frame returns a frame with the given index and a minimal gray image.
func (s *SyntheticSource) Frame(idx int) (*Frame, error) {
	if s.closed {
		return nil, errors.New("frame source is closed")
	}
	if idx < 0 || idx >= s.Frames {
		return nil, errors.Errorf("frame index %d out of range [0, %d)", idx, s.Frames)
	}
	return &Frame{Index: idx, Gray: image.NewGray(image.Rect(0, 0, 1, 1))}, nil
}

// Close marks the source closed.
func (s *SyntheticSource) Close() error {
	s.closed = true
	return nil
}

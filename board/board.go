// Package board describes the checkerboard calibration target.
package board

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Placement is how the checkerboard was physically placed during the session.
type Placement string

// Supported placements. Wall means the board hangs vertically on a wall behind
// the subject; Ground means it lies flat on the floor.
const (
	PlacementWall   Placement = "backWall"
	PlacementGround Placement = "ground"
)

// ParsePlacement validates a placement string at config-load time. The legacy
// session metadata spellings ("Perpendicular", "Lying") are accepted.
func ParsePlacement(s string) (Placement, error) {
	switch s {
	case string(PlacementWall), "Perpendicular":
		return PlacementWall, nil
	case string(PlacementGround), "Lying":
		return PlacementGround, nil
	default:
		return "", errors.Errorf("unknown checkerboard placement %q", s)
	}
}

// Spec describes the session's physical checkerboard. Dimensions count
// interior corners (black-to-black), not squares.
type Spec struct {
	Width        int       `json:"black2black_corners_width_n" yaml:"black2BlackCornersWidth_n"`
	Height       int       `json:"black2black_corners_height_n" yaml:"black2BlackCornersHeight_n"`
	SquareSizeMM float64   `json:"square_side_length_mm" yaml:"squareSideLength_mm"`
	Placement    Placement `json:"placement" yaml:"placement"`
}

// Validate checks the spec fields.
func (s *Spec) Validate() error {
	if s.Width < 2 || s.Height < 2 {
		return errors.Errorf("checkerboard needs at least 2x2 interior corners, got %dx%d", s.Width, s.Height)
	}
	if s.Width == s.Height {
		// A square grid makes the detected corner ordering ambiguous under 90 degree
		// rotation, which breaks pose recovery.
		return errors.Errorf("checkerboard interior corner grid must not be square, got %dx%d", s.Width, s.Height)
	}
	if s.SquareSizeMM <= 0 {
		return errors.Errorf("checkerboard square size must be positive, got %v mm", s.SquareSizeMM)
	}
	if _, err := ParsePlacement(string(s.Placement)); err != nil {
		return err
	}
	return nil
}

// NumCorners returns the number of interior corners.
func (s *Spec) NumCorners() int {
	return s.Width * s.Height
}

// ObjectPoints returns the board-frame 3D coordinates of each interior corner
// in millimeters, row-major over the grid with Z=0, the ordering corner
// detectors are expected to produce.
func (s *Spec) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, s.NumCorners())
	for j := 0; j < s.Height; j++ {
		for i := 0; i < s.Width; i++ {
			pts = append(pts, r3.Vector{
				X: float64(i) * s.SquareSizeMM,
				Y: float64(j) * s.SquareSizeMM,
			})
		}
	}
	return pts
}

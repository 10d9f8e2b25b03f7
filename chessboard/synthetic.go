package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/video"
)

// BoardView is a known board pose for one frame of a synthetic video.
type BoardView struct {
	// Rotation is the 3x3 board-to-camera rotation.
	Rotation *mat.Dense
	// Translation is the board origin in camera frame, millimeters.
	Translation []float64
	// Noise is an optional deterministic pixel perturbation amplitude.
	Noise float64
}

// SyntheticDetector produces corners by projecting the board's object points
// through known poses and intrinsics. Frames with no registered view report
// ErrBoardNotFound, which is how detection failures are simulated.
type SyntheticDetector struct {
	Camera *camera.Camera
	// Views maps frame index to the board pose visible in that frame.
	Views map[int]BoardView
}

// FindCorners implements Detector.
func (d *SyntheticDetector) FindCorners(frame *video.Frame, spec *board.Spec) (*Corners, error) {
	view, ok := d.Views[frame.Index]
	if !ok {
		return nil, ErrBoardNotFound
	}
	obj := spec.ObjectPoints()
	pts := make([]r2.Point, len(obj))
	for i, p := range obj {
		x := view.Rotation.At(0, 0)*p.X + view.Rotation.At(0, 1)*p.Y + view.Rotation.At(0, 2)*p.Z + view.Translation[0]
		y := view.Rotation.At(1, 0)*p.X + view.Rotation.At(1, 1)*p.Y + view.Rotation.At(1, 2)*p.Z + view.Translation[1]
		z := view.Rotation.At(2, 0)*p.X + view.Rotation.At(2, 1)*p.Y + view.Rotation.At(2, 2)*p.Z + view.Translation[2]
		u, v := d.Camera.DistortedPixel(x, y, z)
		if view.Noise != 0 {
			// deterministic, zero-mean perturbation so tests stay reproducible
			u += view.Noise * math.Sin(float64(i)*12.9898+float64(frame.Index))
			v += view.Noise * math.Cos(float64(i)*78.233+float64(frame.Index))
		}
		pts[i] = r2.Point{X: u, Y: v}
	}
	return &Corners{Points: pts}, nil
}

// RotationAbout returns the rotation matrix for an angle in radians about the
// given axis ("x", "y" or "z"), a convenience for building synthetic views.
func RotationAbout(axis string, angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	switch axis {
	case "x":
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, -s, 0, s, c})
	case "y":
		return mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
	case "z":
		return mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
	default:
		panic("axis must be x, y or z")
	}
}

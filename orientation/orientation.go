// Package orientation converts reconstructed points from the arbitrary
// calibration-target frame into the biomechanical frame: gravity-aligned
// vertical axis, subject-facing forward axis.
package orientation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/errcode"
)

// EulerDegrees is a rotation expressed as degrees about the fixed axes,
// composed pitch (X) first, then yaw (Y), then roll (Z).
type EulerDegrees struct {
	Pitch float64 `json:"pitch_deg"`
	Yaw   float64 `json:"yaw_deg"`
	Roll  float64 `json:"roll_deg"`
}

// Matrix returns the 3x3 rotation Rz(roll) * Ry(yaw) * Rx(pitch).
func (e EulerDegrees) Matrix() *mat.Dense {
	rx := axisRotation(0, e.Pitch*math.Pi/180)
	ry := axisRotation(1, e.Yaw*math.Pi/180)
	rz := axisRotation(2, e.Roll*math.Pi/180)
	var out mat.Dense
	out.Mul(ry, rx)
	out.Mul(rz, &out)
	return mat.DenseCopyOf(&out)
}

func axisRotation(axis int, angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	switch axis {
	case 0:
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, -s, 0, s, c})
	case 1:
		return mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
	default:
		return mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
	}
}

// ForPlacement returns the fixed rotation for the session's checkerboard
// placement. The table is policy, not a per-trial heuristic:
//
//	wall, upside-down:    yaw(-90)
//	wall, right-side-up:  yaw(+90) roll(+180)
//	ground:               pitch(+90) yaw(+90)
//
// Any other placement fails with UnsupportedPlacement.
func ForPlacement(placement board.Placement, upsideDown bool) (EulerDegrees, error) {
	switch placement {
	case board.PlacementWall:
		if upsideDown {
			return EulerDegrees{Yaw: -90}, nil
		}
		return EulerDegrees{Yaw: 90, Roll: 180}, nil
	case board.PlacementGround:
		return EulerDegrees{Pitch: 90, Yaw: 90}, nil
	default:
		return EulerDegrees{}, errcode.Newf(errcode.UnsupportedPlacement,
			"checkerboard placement %q has no coordinate rotation policy", string(placement))
	}
}

// Oracle decides whether the checkerboard was imaged upside-down. The board's
// physical orientation is a session-wide fact, so the test runs once over the
// whole set of resolved extrinsics, never per camera.
type Oracle interface {
	UpsideDown(extrinsics map[string]*calib.Extrinsic) (bool, error)
}

// GravityProxyOracle tests the board's +Y axis against the image down
// direction. A right-side-up wall-mounted board has its Y axis (which runs
// down the board's corner grid) aligned with image down in every roughly
// upright camera, so the mean of R[1][1] over cameras is positive; a negative
// mean means the board was hung upside-down.
type GravityProxyOracle struct{}

// UpsideDown implements Oracle.
func (GravityProxyOracle) UpsideDown(extrinsics map[string]*calib.Extrinsic) (bool, error) {
	if len(extrinsics) == 0 {
		return false, errcode.New(errcode.ExtrinsicCalibrationFailed,
			"upside-down detection needs at least one resolved extrinsic")
	}
	sum := 0.0
	for _, e := range extrinsics {
		sum += e.RotationMatrix().At(1, 1)
	}
	return sum/float64(len(extrinsics)) < 0, nil
}

// Package camera models a calibrated pinhole camera with radial/tangential
// distortion and handles persistence of per-camera records.
package camera

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned when a camera record has no usable intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Focal-ratio bounds outside which a calibration is flagged as suspect. A
// pinhole camera with square pixels has fx/fy near 1; a ratio far from 1
// usually means the solve ran against pre-rotation image dimensions.
const (
	MinFocalRatio = 0.66
	MaxFocalRatio = 1.5
)

// Intrinsics holds the parameters of a perspective projection onto the image
// plane. Width and Height are the display dimensions, after any sensor
// rotation has been accounted for.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return ErrNoIntrinsics
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fy = %v", params.Fy)
	}
	if params.Ppx < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal point Ppx = %v", params.Ppx)
	}
	if params.Ppy < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal point Ppy = %v", params.Ppy)
	}
	return nil
}

// Matrix returns the 3x3 camera matrix
// [[fx 0 ppx], [0 fy ppy], [0 0 1]].
func (params *Intrinsics) Matrix() *mat.Dense {
	if params == nil {
		return nil
	}
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, params.Fx)
	k.Set(1, 1, params.Fy)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// FocalRatio returns fx/fy.
func (params *Intrinsics) FocalRatio() float64 {
	return params.Fx / params.Fy
}

// FocalRatioSuspect reports whether fx/fy falls outside the plausible range.
// This is a quality flag, never a hard failure.
func (params *Intrinsics) FocalRatioSuspect() bool {
	r := params.FocalRatio()
	return r < MinFocalRatio || r > MaxFocalRatio
}

// PointToPixel projects a camera-frame 3D point to a pixel, ignoring distortion.
func (params *Intrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return -1, -1
	}
	return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
}

// Distortion holds Brown-Conrady coefficients in the conventional
// (k1, k2, p1, p2, k3) order.
type Distortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3"`
}

// Coefficients returns the coefficient vector.
func (d *Distortion) Coefficients() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// Transform applies the distortion model to normalized image coordinates.
func (d *Distortion) Transform(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Undistort inverts Transform by fixed-point iteration, returning the ideal
// normalized coordinates for distorted normalized coordinates.
func (d *Distortion) Undistort(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < 20; i++ {
		r2 := x*x + y*y
		radial := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
		if radial == 0 {
			break
		}
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		x = (xd - dx) / radial
		y = (yd - dy) / radial
	}
	return x, y
}

// Camera is the full per-camera intrinsic record produced by calibration.
// ReprojectionError is diagnostic only; no rejection threshold is imposed here.
type Camera struct {
	Name              string     `json:"name"`
	Intrinsics        Intrinsics `json:"intrinsic_parameters"`
	Distortion        Distortion `json:"distortion"`
	ReprojectionError float64    `json:"reprojection_error_px"`
}

// DistortedPixel projects a camera-frame 3D point to a pixel through the
// distortion model.
func (c *Camera) DistortedPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return -1, -1
	}
	xd, yd := c.Distortion.Transform(x/z, y/z)
	return xd*c.Intrinsics.Fx + c.Intrinsics.Ppx, yd*c.Intrinsics.Fy + c.Intrinsics.Ppy
}

// UndistortedNormalized converts a pixel observation to ideal normalized
// image coordinates, inverting both the camera matrix and the distortion.
func (c *Camera) UndistortedNormalized(u, v float64) (float64, float64) {
	xd := (u - c.Intrinsics.Ppx) / c.Intrinsics.Fx
	yd := (v - c.Intrinsics.Ppy) / c.Intrinsics.Fy
	return c.Distortion.Undistort(xd, yd)
}

// String summarizes the record for logs.
func (c *Camera) String() string {
	return fmt.Sprintf("%s %dx%d fx=%.1f fy=%.1f reproj=%.3fpx",
		c.Name, c.Intrinsics.Width, c.Intrinsics.Height, c.Intrinsics.Fx, c.Intrinsics.Fy, c.ReprojectionError)
}

// LoadCamera reads a camera record from a JSON file.
func LoadCamera(path string) (*Camera, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading camera record")
	}
	cam := &Camera{}
	if err := json.Unmarshal(data, cam); err != nil {
		return nil, errors.Wrap(err, "error parsing camera record")
	}
	if err := cam.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return cam, nil
}

// Save writes the camera record to a JSON file.
func (c *Camera) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "error writing camera record")
}

// Package triangulate is the boundary between the calibration core and the
// external multi-view triangulator. It defines the camera bundle the
// triangulator consumes, the reconstructed point cloud it produces, and the
// validity gate applied to that output. A reference linear triangulator is
// included for tests and diagnostics; production reconstruction is an
// external collaborator.
package triangulate

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/errcode"
)

// MinValidFrames is the minimum number of valid reconstructed frames for a
// trial to proceed to export.
const MinValidFrames = 10

// MinCameras is the minimum camera count for 3D reconstruction.
const MinCameras = 2

// CameraBundle is the per-camera record handed to the triangulator: the full
// projection model keyed by camera name. Every bundle in a trial must carry
// extrinsics resolved under the same session-wide calibration selection.
type CameraBundle struct {
	Camera    *camera.Camera   `json:"camera"`
	Extrinsic *calib.Extrinsic `json:"extrinsic"`
}

// BundleSet is the camera set used for one trial.
type BundleSet map[string]*CameraBundle

// CheckValid verifies the set is usable for reconstruction.
func (s BundleSet) CheckValid() error {
	if len(s) < MinCameras {
		return errors.Errorf("3D reconstruction needs at least %d cameras, got %d", MinCameras, len(s))
	}
	for name, b := range s {
		if err := b.Camera.Intrinsics.CheckValid(); err != nil {
			return errors.Wrapf(err, "camera %q", name)
		}
		if err := b.Extrinsic.CheckValid(); err != nil {
			return errors.Wrapf(err, "camera %q", name)
		}
	}
	return nil
}

// ProjectionMatrix returns the 3x4 matrix K[R|t] for the bundle.
func (b *CameraBundle) ProjectionMatrix() *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	rot := b.Extrinsic.RotationMatrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Set(i, j, rot.At(i, j))
		}
		rt.Set(i, 3, b.Extrinsic.Translation[i])
	}
	var p mat.Dense
	p.Mul(b.Camera.Intrinsics.Matrix(), rt)
	return &p
}

// Point is one reconstructed landmark position with its validity flag.
type Point struct {
	Position r3.Vector
	Valid    bool
}

// PointCloud is the trial's reconstructed trajectory: per frame, one point
// per named landmark.
type PointCloud struct {
	Landmarks []string
	FrameRate float64
	// Frames[f][l] is landmark l at frame f.
	Frames [][]Point
}

// ValidFrameCount returns how many frames have at least one valid point.
func (pc *PointCloud) ValidFrameCount() int {
	n := 0
	for _, frame := range pc.Frames {
		for _, pt := range frame {
			if pt.Valid {
				n++
				break
			}
		}
	}
	return n
}

// CheckMinFrames enforces the validity gate; a cloud failing it must not be
// exported.
func (pc *PointCloud) CheckMinFrames() error {
	if n := pc.ValidFrameCount(); n < MinValidFrames {
		return errcode.Newf(errcode.InsufficientReconstructedFrames,
			"only %d valid 3D frames reconstructed, need at least %d", n, MinValidFrames).
			WithDetail("%d total frames, %d landmarks", len(pc.Frames), len(pc.Landmarks))
	}
	return nil
}

// Observation is a 2D landmark observation from one camera.
type Observation struct {
	CameraName string
	Pixel      r2.Point
	Confidence float64
}

// TriangulatePoint recovers a 3D point from observations in two or more
// cameras with the linear DLT method: each observation contributes two rows
// of a homogeneous system solved by SVD.
func TriangulatePoint(bundles BundleSet, obs []Observation) (r3.Vector, error) {
	if len(obs) < MinCameras {
		return r3.Vector{}, errors.Errorf("triangulation needs at least %d observations, got %d", MinCameras, len(obs))
	}
	a := mat.NewDense(2*len(obs), 4, nil)
	for i, o := range obs {
		b, ok := bundles[o.CameraName]
		if !ok {
			return r3.Vector{}, errors.Errorf("no camera bundle named %q", o.CameraName)
		}
		// undistort so the linear model holds
		xn, yn := b.Camera.UndistortedNormalized(o.Pixel.X, o.Pixel.Y)
		u := xn*b.Camera.Intrinsics.Fx + b.Camera.Intrinsics.Ppx
		v := yn*b.Camera.Intrinsics.Fy + b.Camera.Intrinsics.Ppy
		p := b.ProjectionMatrix()
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, u*p.At(2, j)-p.At(0, j))
			a.Set(2*i+1, j, v*p.At(2, j)-p.At(1, j))
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return r3.Vector{}, errors.New("failed to factorize triangulation system")
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if w == 0 {
		return r3.Vector{}, errors.New("point at infinity")
	}
	return r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}, nil
}

// FrameObservations maps landmark name to its per-camera observations for
// one frame.
type FrameObservations map[string][]Observation

// Triangulator is the external reconstruction collaborator: given per-camera
// 2D keypoints over time it produces the reconstructed cloud.
type Triangulator interface {
	Triangulate(bundles BundleSet, landmarks []string, frames []FrameObservations) (*PointCloud, error)
}

// LinearTriangulator implements Triangulator with the reference DLT solve,
// marking points with fewer than MinCameras confident observations invalid.
type LinearTriangulator struct {
	// ConfidenceThreshold drops observations below it; zero keeps everything.
	ConfidenceThreshold float64
}

// Triangulate implements Triangulator.
func (lt *LinearTriangulator) Triangulate(
	bundles BundleSet,
	landmarks []string,
	frames []FrameObservations,
) (*PointCloud, error) {
	if err := bundles.CheckValid(); err != nil {
		return nil, err
	}
	pc := &PointCloud{Landmarks: landmarks, Frames: make([][]Point, len(frames))}
	for f, frame := range frames {
		pts := make([]Point, len(landmarks))
		for l, name := range landmarks {
			obs := frame[name]
			kept := obs[:0:0]
			for _, o := range obs {
				if o.Confidence >= lt.ConfidenceThreshold {
					kept = append(kept, o)
				}
			}
			if len(kept) < MinCameras {
				continue
			}
			pos, err := TriangulatePoint(bundles, kept)
			if err != nil {
				continue
			}
			pts[l] = Point{Position: pos, Valid: true}
		}
		pc.Frames[f] = pts
	}
	return pc, nil
}

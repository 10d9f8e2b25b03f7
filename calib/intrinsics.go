// Package calib recovers camera intrinsics and extrinsics from checkerboard
// calibration video.
package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/chessboard"
	"go.viam.com/mocap/errcode"
	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/video"
)

// MinCalibrationDetections is the hard floor on valid checkerboard detections
// for an intrinsic solve. Below it the solve is ill-conditioned and produces
// plausible-looking but wrong results, so this is never relaxed.
const MinCalibrationDetections = 10

// IntrinsicOptions configures the intrinsic calibrator.
type IntrinsicOptions struct {
	// TargetImageCount is how many valid detections to collect. Twice as many
	// candidate frames are probed to tolerate detection failures.
	TargetImageCount int
	// Refine configures sub-pixel corner refinement.
	Refine *chessboard.RefineConfiguration
}

func (o *IntrinsicOptions) withDefaults() IntrinsicOptions {
	out := IntrinsicOptions{TargetImageCount: 25, Refine: &chessboard.DefaultRefineConf}
	if o != nil {
		if o.TargetImageCount > 0 {
			out.TargetImageCount = o.TargetImageCount
		}
		if o.Refine != nil {
			out.Refine = o.Refine
		}
	}
	return out
}

// detection is one accepted checkerboard view.
type detection struct {
	frameIndex int
	corners    []r2.Point
}

// CalibrateIntrinsics solves for a single camera's intrinsic record from a
// calibration video. Frames are sampled at even temporal stride; collection
// stops once the target count of valid detections is reached or candidates
// exhaust. Fewer than MinCalibrationDetections valid detections is a hard
// failure.
func CalibrateIntrinsics(
	src video.FrameSource,
	detector chessboard.Detector,
	spec *board.Spec,
	opts *IntrinsicOptions,
	logger logging.Logger,
) (*camera.Camera, error) {
	o := opts.withDefaults()

	idxs, err := video.SampleIndexes(src.FrameCount(), 2*o.TargetImageCount)
	if err != nil {
		return nil, err
	}
	detections := make([]detection, 0, o.TargetImageCount)
	for _, idx := range idxs {
		if len(detections) >= o.TargetImageCount {
			break
		}
		frame, err := src.Frame(idx)
		if err != nil {
			logger.Debugw("skipping unreadable frame", "source", src.Name(), "frame", idx, "error", err)
			continue
		}
		corners, err := detector.FindCorners(frame, spec)
		if err != nil {
			if !errors.Is(err, chessboard.ErrBoardNotFound) {
				logger.Debugw("corner detection error", "source", src.Name(), "frame", idx, "error", err)
			}
			continue
		}
		corners = chessboard.RefineCorners(frame.Gray, corners, o.Refine)
		detections = append(detections, detection{frameIndex: idx, corners: corners.Points})
	}
	if len(detections) < MinCalibrationDetections {
		return nil, errcode.Newf(errcode.InsufficientCalibrationImages,
			"found %d valid checkerboard detections, need at least %d",
			len(detections), MinCalibrationDetections).
			WithDetail("source %s, probed %d frames", src.Name(), len(idxs))
	}
	logger.Infow("collected calibration detections",
		"source", src.Name(), "detections", len(detections), "probed", len(idxs))

	// The solve runs against display dimensions. Rotated portrait video is
	// stored landscape; using storage dimensions here swaps fx and fy.
	width, height := video.DisplaySize(src)

	cam, err := solveIntrinsics(spec, detections, width, height)
	if err != nil {
		return nil, err
	}
	cam.Name = src.Name()
	if cam.Intrinsics.FocalRatioSuspect() {
		logger.Warnw("focal length ratio outside plausible bounds, calibration quality suspect",
			"source", src.Name(), "fx", cam.Intrinsics.Fx, "fy", cam.Intrinsics.Fy,
			"ratio", cam.Intrinsics.FocalRatio())
	}
	logger.Infow("intrinsic calibration complete", "camera", cam.String())
	return cam, nil
}

// solveIntrinsics runs Zhang's closed-form calibration over the detections:
// one homography per view, a linear system on the image of the absolute conic
// for the camera matrix, per-view planar poses, then a linear radial
// distortion fit and the mean reprojection error.
func solveIntrinsics(spec *board.Spec, detections []detection, width, height int) (*camera.Camera, error) {
	objXY := objectPointsXY(spec)

	homogs := make([]*mat.Dense, len(detections))
	for i, det := range detections {
		h, err := EstimateHomography(objXY, det.corners)
		if err != nil {
			return nil, errors.Wrapf(err, "homography for view %d", det.frameIndex)
		}
		homogs[i] = h
	}

	intr, err := intrinsicsFromHomographies(homogs)
	if err != nil {
		return nil, err
	}
	intr.Width = width
	intr.Height = height

	k := intr.Matrix()
	rotations := make([]*mat.Dense, len(homogs))
	translations := make([]r3.Vector, len(homogs))
	for i, h := range homogs {
		r, t, err := poseFromHomography(k, h)
		if err != nil {
			return nil, errors.Wrapf(err, "pose for view %d", detections[i].frameIndex)
		}
		rotations[i] = r
		translations[i] = t
	}

	dist := fitRadialDistortion(intr, objXY, detections, rotations, translations)
	cam := &camera.Camera{Intrinsics: *intr, Distortion: dist}
	cam.ReprojectionError = reprojectionError(cam, objXY, detections, rotations, translations)
	return cam, nil
}

// intrinsicsFromHomographies solves the linear system on B = K^-T K^-1.
func intrinsicsFromHomographies(homogs []*mat.Dense) (*camera.Intrinsics, error) {
	if len(homogs) < 2 {
		return nil, errors.Errorf("intrinsic solve needs at least 2 views, got %d", len(homogs))
	}
	// two constraints per view plus an explicit zero-skew row
	a := mat.NewDense(2*len(homogs)+1, 6, nil)
	for i, h := range homogs {
		v12 := conicConstraint(h, 0, 1)
		v11 := conicConstraint(h, 0, 0)
		v22 := conicConstraint(h, 1, 1)
		a.SetRow(2*i, v12)
		diff := make([]float64, 6)
		for j := range diff {
			diff[j] = v11[j] - v22[j]
		}
		a.SetRow(2*i+1, diff)
	}
	a.SetRow(2*len(homogs), []float64{0, 1, 0, 0, 0, 0})

	b := nullVector(a)
	if b == nil {
		return nil, errors.New("failed to factorize intrinsic constraint system")
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	// B must be definite up to sign; fix the sign so b11 > 0
	if b11 < 0 {
		b11, b12, b22, b13, b23, b33 = -b11, -b12, -b22, -b13, -b23, -b33
	}
	den := b11*b22 - b12*b12
	if den <= 0 || b11 == 0 {
		return nil, errors.New("degenerate intrinsic solution, views may be coplanar in motion")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda <= 0 {
		return nil, errors.New("degenerate intrinsic solution, negative scale")
	}
	fx := math.Sqrt(lambda / b11)
	fy := math.Sqrt(lambda * b11 / den)
	u0 := -b13 * fx * fx / lambda
	return &camera.Intrinsics{Fx: fx, Fy: fy, Ppx: u0, Ppy: v0}, nil
}

// conicConstraint builds the v_ij vector of Zhang's method from homography
// columns i and j.
func conicConstraint(h *mat.Dense, i, j int) []float64 {
	hi := []float64{h.At(0, i), h.At(1, i), h.At(2, i)}
	hj := []float64{h.At(0, j), h.At(1, j), h.At(2, j)}
	return []float64{
		hi[0] * hj[0],
		hi[0]*hj[1] + hi[1]*hj[0],
		hi[1] * hj[1],
		hi[2]*hj[0] + hi[0]*hj[2],
		hi[2]*hj[1] + hi[1]*hj[2],
		hi[2] * hj[2],
	}
}

// poseFromHomography recovers the board-to-camera pose from a homography and
// the camera matrix. The translation is scaled so the board sits in front of
// the camera.
func poseFromHomography(k, h *mat.Dense) (*mat.Dense, r3.Vector, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, r3.Vector{}, errors.Wrap(err, "camera matrix is singular")
	}
	var a mat.Dense
	a.Mul(&kInv, h)

	col := func(j int) r3.Vector {
		return r3.Vector{X: a.At(0, j), Y: a.At(1, j), Z: a.At(2, j)}
	}
	a1, a2, a3 := col(0), col(1), col(2)
	n1, n2 := a1.Norm(), a2.Norm()
	if n1 == 0 || n2 == 0 {
		return nil, r3.Vector{}, errors.New("degenerate homography columns")
	}
	scale := 2 / (n1 + n2)
	if a3.Z < 0 {
		// board must be in front of the camera
		scale = -scale
	}
	r1 := a1.Mul(scale)
	r2c := a2.Mul(scale)
	r3c := r1.Cross(r2c)
	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2c.X, r3c.X,
		r1.Y, r2c.Y, r3c.Y,
		r1.Z, r2c.Z, r3c.Z,
	})
	rot := solveRotation(approx)
	if rot == nil {
		return nil, r3.Vector{}, errors.New("failed to orthonormalize rotation")
	}
	return rot, a3.Mul(scale), nil
}

// fitRadialDistortion estimates k1 and k2 by linear least squares over the
// residuals between observed and ideally-projected corners. Tangential terms
// are left at zero; they are below the noise floor for phone footage.
func fitRadialDistortion(
	intr *camera.Intrinsics,
	objXY []r2.Point,
	detections []detection,
	rotations []*mat.Dense,
	translations []r3.Vector,
) camera.Distortion {
	n := 0
	for _, det := range detections {
		n += len(det.corners)
	}
	a := mat.NewDense(2*n, 2, nil)
	b := mat.NewVecDense(2*n, nil)
	row := 0
	for vi, det := range detections {
		for pi, obs := range det.corners {
			x, y, z := transformPoint(rotations[vi], translations[vi], objXY[pi])
			if z == 0 {
				row++
				continue
			}
			xn, yn := x/z, y/z
			r2n := xn*xn + yn*yn
			u := xn*intr.Fx + intr.Ppx
			v := yn*intr.Fy + intr.Ppy
			a.Set(2*row, 0, (u-intr.Ppx)*r2n)
			a.Set(2*row, 1, (u-intr.Ppx)*r2n*r2n)
			b.SetVec(2*row, obs.X-u)
			a.Set(2*row+1, 0, (v-intr.Ppy)*r2n)
			a.Set(2*row+1, 1, (v-intr.Ppy)*r2n*r2n)
			b.SetVec(2*row+1, obs.Y-v)
			row++
		}
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return camera.Distortion{}
	}
	return camera.Distortion{K1: sol.AtVec(0), K2: sol.AtVec(1)}
}

// reprojectionError returns the mean pixel distance between observed corners
// and corners reprojected through the full model.
func reprojectionError(
	cam *camera.Camera,
	objXY []r2.Point,
	detections []detection,
	rotations []*mat.Dense,
	translations []r3.Vector,
) float64 {
	total, n := 0.0, 0
	for vi, det := range detections {
		for pi, obs := range det.corners {
			x, y, z := transformPoint(rotations[vi], translations[vi], objXY[pi])
			u, v := cam.DistortedPixel(x, y, z)
			total += math.Hypot(obs.X-u, obs.Y-v)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// transformPoint applies a board-to-camera pose to a board-plane point.
func transformPoint(rot *mat.Dense, t r3.Vector, p r2.Point) (float64, float64, float64) {
	x := rot.At(0, 0)*p.X + rot.At(0, 1)*p.Y + t.X
	y := rot.At(1, 0)*p.X + rot.At(1, 1)*p.Y + t.Y
	z := rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + t.Z
	return x, y, z
}

// objectPointsXY returns the board-plane coordinates of the interior corners.
func objectPointsXY(spec *board.Spec) []r2.Point {
	obj := spec.ObjectPoints()
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// AverageIntrinsics averages intrinsic records solved from several
// calibration videos of the same physical camera.
func AverageIntrinsics(cams []*camera.Camera) (*camera.Camera, error) {
	if len(cams) == 0 {
		return nil, errors.New("no camera records to average")
	}
	if len(cams) == 1 {
		out := *cams[0]
		return &out, nil
	}
	out := &camera.Camera{
		Name:       cams[0].Name,
		Intrinsics: camera.Intrinsics{Width: cams[0].Intrinsics.Width, Height: cams[0].Intrinsics.Height},
	}
	n := float64(len(cams))
	for _, c := range cams {
		if c.Intrinsics.Width != out.Intrinsics.Width || c.Intrinsics.Height != out.Intrinsics.Height {
			return nil, errors.Errorf("cannot average intrinsics across image sizes (%dx%d vs %dx%d)",
				c.Intrinsics.Width, c.Intrinsics.Height, out.Intrinsics.Width, out.Intrinsics.Height)
		}
		out.Intrinsics.Fx += c.Intrinsics.Fx / n
		out.Intrinsics.Fy += c.Intrinsics.Fy / n
		out.Intrinsics.Ppx += c.Intrinsics.Ppx / n
		out.Intrinsics.Ppy += c.Intrinsics.Ppy / n
		out.Distortion.K1 += c.Distortion.K1 / n
		out.Distortion.K2 += c.Distortion.K2 / n
		out.Distortion.P1 += c.Distortion.P1 / n
		out.Distortion.P2 += c.Distortion.P2 / n
		out.Distortion.K3 += c.Distortion.K3 / n
		out.ReprojectionError += c.ReprojectionError / n
	}
	return out, nil
}

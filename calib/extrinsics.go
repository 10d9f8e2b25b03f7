package calib

import (
	"encoding/json"
	"os"

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

// NumExtrinsicSolutions is how many candidate poses a planar calibration
// target admits from a single view. Solution 0 is the default, solution 1 the
// alternate; they are related by a flip of the board normal.
const NumExtrinsicSolutions = 2

// Extrinsic is one camera pose relative to the checkerboard frame.
type Extrinsic struct {
	// Rotation is the 3x3 board-to-camera rotation, row-major.
	Rotation []float64 `json:"rotation"`
	// Translation is the board origin in the camera frame, millimeters.
	Translation []float64 `json:"translation"`
}

// NewExtrinsic builds an Extrinsic from a rotation matrix and translation.
func NewExtrinsic(rot *mat.Dense, t r3.Vector) Extrinsic {
	data := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			data[3*i+j] = rot.At(i, j)
		}
	}
	return Extrinsic{Rotation: data, Translation: []float64{t.X, t.Y, t.Z}}
}

// RotationMatrix returns the rotation as a 3x3 gonum matrix.
func (e *Extrinsic) RotationMatrix() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), e.Rotation...))
}

// TranslationVector returns the translation as an r3 vector.
func (e *Extrinsic) TranslationVector() r3.Vector {
	return r3.Vector{X: e.Translation[0], Y: e.Translation[1], Z: e.Translation[2]}
}

// CheckValid verifies the rotation is orthonormal with determinant near +1.
func (e *Extrinsic) CheckValid() error {
	if len(e.Rotation) != 9 || len(e.Translation) != 3 {
		return errors.Errorf("extrinsic has wrong shape: %d rotation and %d translation elements",
			len(e.Rotation), len(e.Translation))
	}
	rot := e.RotationMatrix()
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if diff := rtr.At(i, j) - want; diff > 1e-6 || diff < -1e-6 {
				return errors.New("extrinsic rotation is not orthonormal")
			}
		}
	}
	if det := mat.Det(rot); det < 0.999 || det > 1.001 {
		return errors.Errorf("extrinsic rotation determinant %v, want +1", det)
	}
	return nil
}

// Candidates holds both extrinsic solutions recovered for one camera from a
// calibration trial.
type Candidates struct {
	CameraName string                           `json:"camera_name"`
	FrameIndex int                              `json:"frame_index"`
	Solutions  [NumExtrinsicSolutions]Extrinsic `json:"solutions"`
}

// Solution returns the candidate at idx.
func (c *Candidates) Solution(idx int) (*Extrinsic, error) {
	if idx < 0 || idx >= NumExtrinsicSolutions {
		return nil, errors.Errorf("extrinsic solution index must be 0 or 1, got %d", idx)
	}
	return &c.Solutions[idx], nil
}

// LoadExtrinsic reads an extrinsic record from a JSON file.
func LoadExtrinsic(path string) (*Extrinsic, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading extrinsic record")
	}
	e := &Extrinsic{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, errors.Wrap(err, "error parsing extrinsic record")
	}
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	return e, nil
}

// Save writes the extrinsic record to a JSON file.
func (e *Extrinsic) Save(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "error writing extrinsic record")
}

// ExtrinsicOptions configures the extrinsic resolver.
type ExtrinsicOptions struct {
	// ProbeFrameCount bounds how many frames are probed for a clean board view.
	ProbeFrameCount int
	// Refine configures sub-pixel corner refinement.
	Refine *chessboard.RefineConfiguration
}

func (o *ExtrinsicOptions) withDefaults() ExtrinsicOptions {
	out := ExtrinsicOptions{ProbeFrameCount: 30, Refine: &chessboard.DefaultRefineConf}
	if o != nil {
		if o.ProbeFrameCount > 0 {
			out.ProbeFrameCount = o.ProbeFrameCount
		}
		if o.Refine != nil {
			out.Refine = o.Refine
		}
	}
	return out
}

// ResolveExtrinsics recovers the camera's pose relative to the checkerboard
// from a calibration-trial video. A monocular view of a planar target admits
// two geometrically valid poses; both are returned. Picking one is a policy
// decision that belongs to the selection store, not here.
func ResolveExtrinsics(
	src video.FrameSource,
	detector chessboard.Detector,
	spec *board.Spec,
	cam *camera.Camera,
	opts *ExtrinsicOptions,
	logger logging.Logger,
) (*Candidates, error) {
	o := opts.withDefaults()
	idxs, err := video.SampleIndexes(src.FrameCount(), o.ProbeFrameCount)
	if err != nil {
		return nil, err
	}
	for _, idx := range idxs {
		frame, err := src.Frame(idx)
		if err != nil {
			logger.Debugw("skipping unreadable frame", "source", src.Name(), "frame", idx, "error", err)
			continue
		}
		corners, err := detector.FindCorners(frame, spec)
		if err != nil {
			continue
		}
		corners = chessboard.RefineCorners(frame.Gray, corners, o.Refine)
		cands, err := solveExtrinsicPair(spec, cam, corners.Points, idx)
		if err != nil {
			logger.Debugw("pose solve failed on detected board", "source", src.Name(), "frame", idx, "error", err)
			continue
		}
		cands.CameraName = cam.Name
		logger.Infow("extrinsics resolved", "camera", cam.Name, "frame", idx,
			"distance_mm", cands.Solutions[0].TranslationVector().Norm())
		return cands, nil
	}
	return nil, errcode.Newf(errcode.ExtrinsicCalibrationFailed,
		"no frame yielded a detectable checkerboard").
		WithDetail("source %s, probed %d frames over [0, %d)", src.Name(), len(idxs), src.FrameCount())
}

// solveExtrinsicPair computes the pose from undistorted normalized
// coordinates and derives the alternate normal-flipped solution.
func solveExtrinsicPair(spec *board.Spec, cam *camera.Camera, corners []r2.Point, frameIndex int) (*Candidates, error) {
	objXY := objectPointsXY(spec)
	normalized := make([]r2.Point, len(corners))
	for i, pt := range corners {
		x, y := cam.UndistortedNormalized(pt.X, pt.Y)
		normalized[i] = r2.Point{X: x, Y: y}
	}
	h, err := EstimateHomography(objXY, normalized)
	if err != nil {
		return nil, err
	}
	// normalized coordinates mean the camera matrix is the identity here
	rot, t, err := poseFromHomography(eye(3), h)
	if err != nil {
		return nil, err
	}
	alt := flipBoardNormal(rot)
	return &Candidates{
		FrameIndex: frameIndex,
		Solutions: [NumExtrinsicSolutions]Extrinsic{
			NewExtrinsic(rot, t),
			NewExtrinsic(alt, t),
		},
	}, nil
}

// flipBoardNormal returns the rotation for the mirror pose: the board rotated
// half a turn about its own X axis, which negates the board normal. Both
// results are proper rotations; a single view cannot tell them apart.
func flipBoardNormal(rot *mat.Dense) *mat.Dense {
	flip := mat.NewDense(3, 3, []float64{1, 0, 0, 0, -1, 0, 0, 0, -1})
	var out mat.Dense
	out.Mul(rot, flip)
	return mat.DenseCopyOf(&out)
}

// BoardNormalFlip returns the board-frame flip matrix relating the two
// extrinsic solutions, for consumers that need to verify the relationship.
func BoardNormalFlip() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, -1, 0, 0, 0, -1})
}

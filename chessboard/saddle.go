package chessboard

import (
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/video"
)

// SaddleConfiguration tunes the saddle response used to find checkerboard
// interior corners, which show up as strong saddle points of the luminance
// surface.
type SaddleConfiguration struct {
	// MaxCandidates bounds the pruning loop: the response threshold doubles
	// until at most this many pixels respond.
	MaxCandidates int `json:"max-candidates"`
	// PruneThreshold is the starting response threshold for pruning.
	PruneThreshold float64 `json:"prune-threshold"`
	// NMSWindowSize is the half-size of the non-maximum suppression window.
	NMSWindowSize int `json:"win-size"`
}

// DefaultSaddleConf is tuned for 720p to 4K checkerboard footage.
var DefaultSaddleConf = SaddleConfiguration{
	MaxCandidates:  10000,
	PruneThreshold: 128,
	NMSWindowSize:  10,
}

// SaddleDetector finds interior corners from the saddle points of the image's
// Hessian determinant. The grid ordering step assumes the board is imaged
// roughly upright in the frame; heavily rotated views need an external
// detector behind the Detector interface.
type SaddleDetector struct {
	conf   SaddleConfiguration
	refine RefineConfiguration
}

// NewSaddleDetector returns a detector with default configuration.
func NewSaddleDetector() *SaddleDetector {
	return NewSaddleDetectorWithConfig(DefaultSaddleConf, DefaultRefineConf)
}

// NewSaddleDetectorWithConfig returns a detector with explicit saddle and
// refinement configuration.
func NewSaddleDetectorWithConfig(conf SaddleConfiguration, refine RefineConfiguration) *SaddleDetector {
	return &SaddleDetector{conf: conf, refine: refine}
}

// FindCorners implements Detector. It returns ErrBoardNotFound when fewer
// saddle points than the board's corner count survive suppression.
func (d *SaddleDetector) FindCorners(frame *video.Frame, spec *board.Spec) (*Corners, error) {
	img := grayToDense(frame.Gray)
	response := saddleResponse(img)
	pruned := pruneResponse(response, &d.conf)
	peaks := suppressNonMaxima(pruned, d.conf.NMSWindowSize)

	want := spec.NumCorners()
	if len(peaks) < want {
		return nil, ErrBoardNotFound
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].score > peaks[j].score })
	pts := orderGrid(peaks[:want], spec)
	return RefineCorners(frame.Gray, &Corners{Points: pts}, &d.refine), nil
}

// saddleResponse returns the negated Hessian determinant, clamped at zero.
// Saddle points of the luminance surface have a negative determinant, so
// checkerboard corners are the strong positive responses of this map.
func saddleResponse(img *mat.Dense) *mat.Dense {
	gX := convolve(img, sobelX)
	gY := convolve(img, sobelY)
	gXX := convolve(gX, sobelX)
	gYY := convolve(gY, sobelY)
	gXY := convolve(gX, sobelY)

	h, w := img.Dims()
	out := mat.NewDense(h, w, nil)
	out.MulElem(gXX, gYY)
	var sq mat.Dense
	sq.MulElem(gXY, gXY)
	out.Sub(out, &sq)
	out.Apply(func(_, _ int, v float64) float64 {
		if v >= 0 {
			return 0
		}
		return -v
	}, out)
	return out
}

// pruneResponse zeroes weak responses, doubling the threshold until at most
// MaxCandidates pixels remain nonzero.
func pruneResponse(response *mat.Dense, conf *SaddleConfiguration) *mat.Dense {
	pruned := mat.DenseCopyOf(response)
	thresh := conf.PruneThreshold
	for countPositive(pruned) > conf.MaxCandidates {
		thresh *= 2
		pruned.Apply(func(_, _ int, v float64) float64 {
			if v < thresh {
				return 0
			}
			return v
		}, pruned)
	}
	return pruned
}

func countPositive(m *mat.Dense) int {
	h, w := m.Dims()
	n := 0
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			if m.At(i, j) > 0 {
				n++
			}
		}
	}
	return n
}

type saddlePeak struct {
	pt    r2.Point
	score float64
}

// suppressNonMaxima keeps only responses that are the maximum of their
// blurred neighborhood window.
func suppressNonMaxima(response *mat.Dense, winSize int) []saddlePeak {
	h, w := response.Dims()
	blurred := convolve(response, blur3)
	var peaks []saddlePeak
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			if response.At(i, j) == 0 {
				continue
			}
			ta := clamp(i-winSize, 0, h-1)
			tb := clamp(i+winSize+1, 1, h)
			tc := clamp(j-winSize, 0, w-1)
			td := clamp(j+winSize+1, 1, w)
			cell := response.Slice(ta, tb, tc, td)
			if mat.Max(cell) == response.At(i, j) && blurred.At(i, j) > 0 {
				peaks = append(peaks, saddlePeak{
					pt:    r2.Point{X: float64(j), Y: float64(i)},
					score: response.At(i, j),
				})
			}
		}
	}
	return peaks
}

// orderGrid arranges detected corners row-major to match the board's object
// point ordering: rows top to bottom, each row left to right.
func orderGrid(peaks []saddlePeak, spec *board.Spec) []r2.Point {
	pts := make([]r2.Point, len(peaks))
	for i, p := range peaks {
		pts[i] = p.pt
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Y < pts[j].Y })
	for row := 0; row < spec.Height; row++ {
		seg := pts[row*spec.Width : (row+1)*spec.Width]
		sort.Slice(seg, func(i, j int) bool { return seg[i].X < seg[j].X })
	}
	return pts
}

// Package chessboard is the boundary to checkerboard corner detection.
//
// Detection itself is an external collaborator of the pipeline; this package
// defines the contract a detector must satisfy (grid-ordered interior corners)
// and provides sub-pixel refinement of integer corner guesses.
package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/video"
)

// ErrBoardNotFound is returned by detectors when a frame contains no
// detectable checkerboard.
var ErrBoardNotFound = errors.New("no checkerboard found in frame")

// Corners holds detected interior corners in pixel coordinates, row-major
// over the grid in the same order as board.Spec.ObjectPoints.
type Corners struct {
	Points []r2.Point
}

// Detector finds the interior corners of a checkerboard in a frame.
// Implementations return ErrBoardNotFound (possibly wrapped) when the board
// is not visible; any other error is a processing failure.
type Detector interface {
	FindCorners(frame *video.Frame, spec *board.Spec) (*Corners, error)
}

// RefineConfiguration stores the parameters for sub-pixel corner refinement.
type RefineConfiguration struct {
	WinSize  int     `json:"win_size"`
	MaxIters int     `json:"max_iters"`
	Epsilon  float64 `json:"epsilon"`
}

// DefaultRefineConf mirrors the usual termination criteria for corner
// refinement on calibration footage.
var DefaultRefineConf = RefineConfiguration{
	WinSize:  11,
	MaxIters: 30,
	Epsilon:  0.001,
}

// RefineCorners refines each corner to sub-pixel accuracy by iterating the
// orthogonality condition: at a saddle point, the image gradient at every
// neighboring pixel is orthogonal to the vector from the corner to that pixel.
// Corners whose window leaves the image are left unchanged.
func RefineCorners(img *image.Gray, corners *Corners, cfg *RefineConfiguration) *Corners {
	if cfg == nil {
		cfg = &DefaultRefineConf
	}
	out := &Corners{Points: make([]r2.Point, len(corners.Points))}
	for i, pt := range corners.Points {
		out.Points[i] = refineCorner(img, pt, cfg)
	}
	return out
}

func refineCorner(img *image.Gray, pt r2.Point, cfg *RefineConfiguration) r2.Point {
	bounds := img.Bounds()
	win := cfg.WinSize
	cur := pt
	for iter := 0; iter < cfg.MaxIters; iter++ {
		cx, cy := int(math.Round(cur.X)), int(math.Round(cur.Y))
		if cx-win-1 < bounds.Min.X || cy-win-1 < bounds.Min.Y ||
			cx+win+1 >= bounds.Max.X || cy+win+1 >= bounds.Max.Y {
			return cur
		}
		// accumulate sum(g g^T) and sum(g g^T q) over the window
		var a, b, c, bx, by float64
		for dy := -win; dy <= win; dy++ {
			for dx := -win; dx <= win; dx++ {
				x, y := cx+dx, cy+dy
				gx := float64(img.GrayAt(x+1, y).Y) - float64(img.GrayAt(x-1, y).Y)
				gy := float64(img.GrayAt(x, y+1).Y) - float64(img.GrayAt(x, y-1).Y)
				a += gx * gx
				b += gx * gy
				c += gy * gy
				bx += gx*gx*float64(x) + gx*gy*float64(y)
				by += gx*gy*float64(x) + gy*gy*float64(y)
			}
		}
		det := a*c - b*b
		if math.Abs(det) < 1e-12 {
			return cur
		}
		next := r2.Point{
			X: (c*bx - b*by) / det,
			Y: (a*by - b*bx) / det,
		}
		if next.Sub(cur).Norm() < cfg.Epsilon {
			return next
		}
		cur = next
	}
	return cur
}

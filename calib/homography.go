package calib

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography computes the 3x3 homography mapping src[i] to dst[i]
// with the normalized DLT. At least 4 correspondences are required; with more
// the least-squares solution over all points is returned. The result is
// scaled so H[2][2] = 1.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets must have the same length, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("homography estimation needs at least 4 correspondences, got %d", len(src))
	}
	srcN, tSrc := normalizePoints(src)
	dstN, tDst := normalizePoints(dst)

	// each correspondence contributes two rows of the 2n x 9 DLT system
	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h := nullVector(a)
	if h == nil {
		return nil, errors.New("failed to factorize homography system")
	}
	hN := mat.NewDense(3, 3, h)

	// denormalize: H = Tdst^-1 * Hn * Tsrc
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "normalization transform is singular")
	}
	var out mat.Dense
	out.Mul(&tDstInv, hN)
	out.Mul(&out, tSrc)
	if out.At(2, 2) == 0 {
		return nil, errors.New("degenerate homography")
	}
	out.Scale(1/out.At(2, 2), &out)
	return &out, nil
}

// ApplyHomography maps a point through h.
func ApplyHomography(h *mat.Dense, pt r2.Point) r2.Point {
	w := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	if w == 0 {
		return r2.Point{X: -1e9, Y: -1e9}
	}
	return r2.Point{
		X: (h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)) / w,
	}
}

package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// transposeDense returns the transpose of m as a new Dense.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  []float64
}

// performSVD performs a full SVD on inputMatrix, or returns nil on failure.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}
	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	return &matsSVD{u, v, vt, svd.Values(nil)}
}

// nullVector returns the right singular vector associated with the smallest
// singular value of m, the least-squares solution of m*x = 0 with |x| = 1.
func nullVector(m *mat.Dense) []float64 {
	mats := performSVD(m)
	if mats == nil {
		return nil
	}
	rows, cols := mats.V.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = mats.V.At(i, cols-1)
	}
	return out
}

// solveRotation finds the closest orthonormal rotation to m (Frobenius norm),
// with determinant forced to +1.
func solveRotation(m *mat.Dense) *mat.Dense {
	mats := performSVD(m)
	if mats == nil {
		return nil
	}
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(mats.U, mats.VT)
	if mat.Det(rot) < 0 {
		// negate the last column of U and recompose
		u := mat.DenseCopyOf(mats.U)
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(u, mats.VT)
	}
	return rot
}

// normalizePoints recenters and scales points so their centroid is the origin
// and the mean distance from it is sqrt(2), returning the transformed points
// and the applied 3x3 transform (Multiple View Geometry, Alg 4.2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		dx := pt.X - mu.X
		dy := pt.Y - mu.Y
		d += math.Sqrt(dx*dx+dy*dy) / float64(nPoints)
	}
	if d == 0 {
		d = 1
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, nPoints)
	for i := range out {
		out[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return out, T
}

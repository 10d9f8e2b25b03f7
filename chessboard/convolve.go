package chessboard

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Small fixed kernels for the saddle response. Sobel gradients feed the
// Hessian estimate; the blur stabilizes non-maximum suppression.
var (
	sobelX = mat.NewDense(3, 3, []float64{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	})
	sobelY = mat.NewDense(3, 3, []float64{
		-1, -2, -1,
		0, 0, 0,
		1, 2, 1,
	})
	blur3 = mat.NewDense(3, 3, []float64{
		1. / 16, 2. / 16, 1. / 16,
		2. / 16, 4. / 16, 2. / 16,
		1. / 16, 2. / 16, 1. / 16,
	})
)

// grayToDense converts a grayscale image to a float64 luminance matrix.
func grayToDense(img *image.Gray) *mat.Dense {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(y, x, float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
		}
	}
	return out
}

// convolve applies a small odd-sized kernel with replicated borders,
// returning a matrix of the same size.
func convolve(src, kernel *mat.Dense) *mat.Dense {
	h, w := src.Dims()
	kh, kw := kernel.Dims()
	cy, cx := kh/2, kw/2
	out := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					sy := clamp(y+ky-cy, 0, h-1)
					sx := clamp(x+kx-cx, 0, w-1)
					acc += src.At(sy, sx) * kernel.At(ky, kx)
				}
			}
			out.Set(y, x, acc)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/triangulate"
)

// Plausible human-scale bounds for the rotated cloud, millimeters. Outside
// them the diagnostics warn; they never fail the trial.
const (
	minHumanSpanMM    = 500
	maxHumanSpanMM    = 5000
	maxCentroidDistMM = 10000
	minVerticalSpanMM = 100
)

// Ranges summarizes a point cloud's extent per axis.
type Ranges struct {
	Min, Max r3.Vector
	Centroid r3.Vector
	Valid    int
}

// Span returns the per-axis extent.
func (r *Ranges) Span() r3.Vector {
	return r.Max.Sub(r.Min)
}

// Apply rotates every valid point of the cloud in place and returns the pre-
// and post-rotation ranges. The rotation is applied exactly once, at export
// time; diagnostics over the result are logged so gross misconfiguration is
// visible instead of silently passed through.
func Apply(pc *triangulate.PointCloud, rot EulerDegrees, logger logging.Logger) (pre, post *Ranges) {
	pre = MeasureRanges(pc)
	m := rot.Matrix()
	for _, frame := range pc.Frames {
		for i := range frame {
			if !frame[i].Valid {
				continue
			}
			p := frame[i].Position
			frame[i].Position = r3.Vector{
				X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z,
				Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z,
				Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z,
			}
		}
	}
	post = MeasureRanges(pc)
	logger.Infow("applied coordinate rotation",
		"pitch_deg", rot.Pitch, "yaw_deg", rot.Yaw, "roll_deg", rot.Roll,
		"pre_span", pre.Span(), "post_span", post.Span(),
		"pre_centroid", pre.Centroid, "post_centroid", post.Centroid)
	warnOnImplausibleCloud(pc, post, logger)
	return pre, post
}

// MeasureRanges computes the bounding ranges and centroid of valid points.
func MeasureRanges(pc *triangulate.PointCloud) *Ranges {
	r := &Ranges{
		Min: r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	var sum r3.Vector
	for _, frame := range pc.Frames {
		for _, pt := range frame {
			if !pt.Valid {
				continue
			}
			p := pt.Position
			r.Min = r3.Vector{X: math.Min(r.Min.X, p.X), Y: math.Min(r.Min.Y, p.Y), Z: math.Min(r.Min.Z, p.Z)}
			r.Max = r3.Vector{X: math.Max(r.Max.X, p.X), Y: math.Max(r.Max.Y, p.Y), Z: math.Max(r.Max.Z, p.Z)}
			sum = sum.Add(p)
			r.Valid++
		}
	}
	if r.Valid > 0 {
		r.Centroid = sum.Mul(1 / float64(r.Valid))
	}
	return r
}

// warnOnImplausibleCloud flags clouds whose scale or placement cannot be a
// human subject in the biomechanical frame: a near-zero vertical span, a
// centroid far from the capture volume, or inter-point distances outside
// human scale.
func warnOnImplausibleCloud(pc *triangulate.PointCloud, post *Ranges, logger logging.Logger) {
	if post.Valid == 0 {
		logger.Warnw("rotated point cloud has no valid points")
		return
	}
	if post.Span().Y < minVerticalSpanMM {
		logger.Warnw("vertical-axis span is near zero after rotation, placement/orientation likely misconfigured",
			"y_span_mm", post.Span().Y)
	}
	if post.Centroid.Norm() > maxCentroidDistMM {
		logger.Warnw("point cloud centroid far outside plausible capture volume",
			"centroid_mm", post.Centroid)
	}
	if d, ok := typicalPairDistance(pc); ok {
		if d < minHumanSpanMM || d > maxHumanSpanMM {
			logger.Warnw("inter-landmark distances outside human scale",
				"p95_distance_mm", d)
		}
	}
}

// typicalPairDistance returns the 95th percentile of pairwise landmark
// distances in the first frame that has two or more valid points.
func typicalPairDistance(pc *triangulate.PointCloud) (float64, bool) {
	for _, frame := range pc.Frames {
		pts := make([]r3.Vector, 0, len(frame))
		for _, pt := range frame {
			if pt.Valid {
				pts = append(pts, pt.Position)
			}
		}
		if len(pts) < 2 {
			continue
		}
		dists := make([]float64, 0, len(pts)*(len(pts)-1)/2)
		for i := range pts {
			for j := i + 1; j < len(pts); j++ {
				dists = append(dists, pts[i].Sub(pts[j]).Norm())
			}
		}
		p95, err := stats.Percentile(dists, 95)
		if err != nil {
			return 0, false
		}
		return p95, true
	}
	return 0, false
}

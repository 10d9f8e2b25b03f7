package session

import (
	"context"

	"go.viam.com/mocap/orientation"
	"go.viam.com/mocap/triangulate"
)

// ReconstructionConfig supplies what a static or dynamic trial needs beyond
// the session itself.
type ReconstructionConfig struct {
	// Triangulator defaults to the reference linear triangulator gated at the
	// trial settings' confidence threshold.
	Triangulator triangulate.Triangulator
	// DebugStride, when positive, also exports a frame-sampled debug cloud.
	DebugStride int
}

// Reconstruct runs a static or dynamic trial's core: triangulate the external
// pose detector's keypoints against the session's camera bundles, gate on the
// minimum valid frame count, rotate into the biomechanical frame, and export
// the marker data. A cloud failing the frame gate writes nothing.
func (s *Session) Reconstruct(
	ctx context.Context,
	trial *Trial,
	settings *Settings,
	cfg *ReconstructionConfig,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &ReconstructionConfig{}
	}
	obs, err := triangulate.LoadObservations(s.layout.ObservationsPath(trial.Name))
	if err != nil {
		return nil, err
	}
	bundles, err := s.Bundles(trial.Cameras)
	if err != nil {
		return nil, err
	}
	tri := cfg.Triangulator
	if tri == nil {
		tri = &triangulate.LinearTriangulator{ConfidenceThreshold: settings.ConfidenceThreshold}
	}
	pc, err := tri.Triangulate(bundles, obs.Landmarks, obs.FrameObservations())
	if err != nil {
		return nil, err
	}
	pc.FrameRate = obs.FrameRate
	if err := pc.CheckMinFrames(); err != nil {
		return nil, err
	}

	spec, err := s.meta.BoardSpec()
	if err != nil {
		return nil, err
	}
	rot, err := orientation.ForPlacement(spec.Placement, s.meta.BoardUpsideDown)
	if err != nil {
		return nil, err
	}
	orientation.Apply(pc, rot, s.logger)

	path, err := s.ExportPointCloud(trial.Name, pc)
	if err != nil {
		return nil, err
	}
	outputs := []string{path}
	if cfg.DebugStride > 0 {
		debugPath, err := s.ExportDebugCloud(trial.Name, pc, cfg.DebugStride)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, debugPath)
	}
	return &Result{Outputs: outputs, VerticalOffsetM: verticalOffsetM(pc)}, nil
}

// verticalOffsetM estimates how far above the floor the lowest reconstructed
// point sits, in meters, for the settings record.
func verticalOffsetM(pc *triangulate.PointCloud) float64 {
	const mmPerM = 1000.0
	ranges := orientation.MeasureRanges(pc)
	if ranges.Valid == 0 {
		return 0
	}
	return ranges.Min.Y / mmPerM
}

package session

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/chessboard"
	"go.viam.com/mocap/orientation"
	"go.viam.com/mocap/selection"
	"go.viam.com/mocap/triangulate"
	"go.viam.com/mocap/video"
)

// CalibrationConfig supplies what the calibration trial needs beyond the
// session itself: the corner detector and each camera's frame sources. A
// camera with several calibration videos gets one intrinsic solve per video,
// averaged into its persisted record; extrinsics resolve from the first.
type CalibrationConfig struct {
	Detector  chessboard.Detector
	Sources   map[string][]video.FrameSource
	Intrinsic *calib.IntrinsicOptions
	Extrinsic *calib.ExtrinsicOptions
	// Oracle decides whether the board was imaged upside-down, from the full
	// set of resolved extrinsics. Defaults to orientation.GravityProxyOracle.
	Oracle orientation.Oracle
}

// CalibrationOutcome is what a calibration trial produces: per-camera
// intrinsics and extrinsic candidate pairs for every camera that calibrated,
// per-camera errors for those that did not, and the session-wide upside-down
// determination.
type CalibrationOutcome struct {
	Cameras    map[string]*camera.Camera
	Candidates map[string]*calib.Candidates
	UpsideDown bool
	Failed     map[string]error
	Outputs    []string
}

// Calibrate runs the calibration trial's core: per-camera intrinsic
// calibration and extrinsic resolution, persisting the artifacts and
// defaulting every calibrated camera's selection to solution 0. A single
// camera's failure does not abort the trial; the trial fails only when fewer
// than the triangulation minimum calibrate.
func (s *Session) Calibrate(ctx context.Context, trial *Trial, cfg *CalibrationConfig) (*CalibrationOutcome, error) {
	spec, err := s.meta.BoardSpec()
	if err != nil {
		return nil, err
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = orientation.GravityProxyOracle{}
	}

	out := &CalibrationOutcome{
		Cameras:    map[string]*camera.Camera{},
		Candidates: map[string]*calib.Candidates{},
		Failed:     map[string]error{},
	}
	for _, name := range trial.Cameras {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		srcs := cfg.Sources[name]
		if len(srcs) == 0 {
			out.Failed[name] = errors.Errorf("no calibration video source for camera %s", name)
			continue
		}
		if err := s.calibrateOne(name, srcs, spec, cfg, out); err != nil {
			s.logger.Errorw("camera calibration failed, continuing with remaining cameras",
				"camera", name, "error", err)
			out.Failed[name] = err
		}
	}

	if len(out.Cameras) < triangulate.MinCameras {
		var causes error
		for name, ferr := range out.Failed {
			causes = multierr.Append(causes, errors.Wrapf(ferr, "camera %s", name))
		}
		return nil, multierr.Append(errors.Errorf(
			"only %d of %d cameras calibrated, need at least %d",
			len(out.Cameras), len(trial.Cameras), triangulate.MinCameras), causes)
	}

	solved := make(map[string]*calib.Extrinsic, len(out.Candidates))
	for name, cands := range out.Candidates {
		sol, err := cands.Solution(selection.DefaultSolution)
		if err != nil {
			return nil, err
		}
		solved[name] = sol
	}
	upsideDown, err := oracle.UpsideDown(solved)
	if err != nil {
		return nil, errors.Wrap(err, "upside-down detection failed")
	}
	out.UpsideDown = upsideDown
	s.meta.BoardUpsideDown = upsideDown
	if err := s.meta.Save(s.layout.MetadataPath()); err != nil {
		return nil, errors.Wrap(err, "error recording upside-down determination")
	}
	s.logger.Infow("calibration trial complete",
		"trial", trial.Name, "cameras", len(out.Cameras), "failed", len(out.Failed),
		"upside_down", upsideDown)
	return out, nil
}

func (s *Session) calibrateOne(
	name string,
	srcs []video.FrameSource,
	spec *board.Spec,
	cfg *CalibrationConfig,
	out *CalibrationOutcome,
) error {
	solves := make([]*camera.Camera, 0, len(srcs))
	for _, src := range srcs {
		solve, err := calib.CalibrateIntrinsics(src, cfg.Detector, spec, cfg.Intrinsic, s.logger)
		if err != nil {
			return err
		}
		solves = append(solves, solve)
	}
	cam, err := calib.AverageIntrinsics(solves)
	if err != nil {
		return err
	}
	if len(solves) > 1 {
		s.logger.Infow("averaged intrinsics over calibration videos",
			"camera", name, "videos", len(solves))
	}
	cam.Name = name
	intrPath := s.layout.IntrinsicsPath(name)
	if err := cam.Save(intrPath); err != nil {
		return errors.Wrapf(err, "error persisting intrinsics for camera %s", name)
	}
	out.Outputs = append(out.Outputs, intrPath)

	cands, err := calib.ResolveExtrinsics(srcs[0], cfg.Detector, spec, cam, cfg.Extrinsic, s.logger)
	if err != nil {
		return err
	}
	arts := s.layout.ExtrinsicArtifacts()(name)
	for i := range cands.Solutions {
		if err := cands.Solutions[i].Save(arts.Candidates[i]); err != nil {
			return errors.Wrapf(err, "error persisting extrinsic candidate %d for camera %s", i, name)
		}
		out.Outputs = append(out.Outputs, arts.Candidates[i])
	}
	// Solution 0 is the default until an operator explicitly re-selects.
	if err := s.store.Select(name, selection.DefaultSolution, "calibration default"); err != nil {
		return err
	}
	out.Outputs = append(out.Outputs, arts.Active)

	out.Cameras[name] = cam
	out.Candidates[name] = cands
	return nil
}

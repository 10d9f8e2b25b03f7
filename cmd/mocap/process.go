package main

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/mocap/chessboard"
	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/session"
	"go.viam.com/mocap/video"
)

// trialRunner carries the per-invocation state shared across the session's
// trials.
type trialRunner struct {
	sess        *session.Session
	settings    *session.Settings
	cameras     []string
	rotation    video.Rotation
	debugClouds bool
	logger      logging.Logger
}

// debugCloudStride thins the debug export to roughly one frame per stride.
const debugCloudStride = 10

// runCalibration runs the calibration trial: per-camera intrinsic and
// extrinsic calibration from the trial's frame directories.
func (r *trialRunner) runCalibration(ctx context.Context, trialName string) error {
	layout := r.sess.Layout()
	cams, err := layout.DiscoverCameras(r.cameras, trialName)
	if err != nil {
		return err
	}
	trial := session.NewTrial(trialName, session.KindCalibration, cams)

	sources := map[string][]video.FrameSource{}
	defer func() {
		for _, srcs := range sources {
			for _, src := range srcs {
				if err := src.Close(); err != nil {
					r.logger.Warnw("error closing frame source", "source", src.Name(), "error", err)
				}
			}
		}
	}()
	for _, name := range cams {
		src, err := video.NewImageDirSource(layout.RawVideoDir(name, trialName), r.rotation)
		if err != nil {
			return errors.Wrapf(err, "camera %s", name)
		}
		sources[name] = []video.FrameSource{src}
	}

	cfg := &session.CalibrationConfig{
		Detector: chessboard.NewSaddleDetector(),
		Sources:  sources,
	}
	return r.sess.Run(ctx, trial, r.settings, session.ProcessorFunc(
		func(ctx context.Context, trial *session.Trial, _ *session.Settings) (*session.Result, error) {
			outcome, err := r.sess.Calibrate(ctx, trial, cfg)
			if err != nil {
				return nil, err
			}
			return &session.Result{Outputs: outcome.Outputs}, nil
		}))
}

// runReconstruction runs a static or dynamic trial against the session's
// reconciled camera bundles.
func (r *trialRunner) runReconstruction(ctx context.Context, trialName string, kind session.Kind) error {
	sel := r.cameras
	if kind == session.KindStatic {
		// Scaling needs every camera's view of the neutral pose.
		sel = []string{session.CamerasAll}
	}
	cams, err := r.sess.Layout().DiscoverCameras(sel, trialName)
	if err != nil {
		return err
	}
	trial := session.NewTrial(trialName, kind, cams)

	cfg := &session.ReconstructionConfig{}
	if r.debugClouds {
		cfg.DebugStride = debugCloudStride
	}
	return r.sess.Run(ctx, trial, r.settings, session.ProcessorFunc(
		func(ctx context.Context, trial *session.Trial, settings *session.Settings) (*session.Result, error) {
			return r.sess.Reconstruct(ctx, trial, settings, cfg)
		}))
}

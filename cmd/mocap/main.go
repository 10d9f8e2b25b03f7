// Package main is the mocap session processing command.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/selection"
	"go.viam.com/mocap/session"
	"go.viam.com/mocap/video"
)

const (
	flagSession          = "session"
	flagCalibrationTrial = "calibration-trial"
	flagStaticTrial      = "static-trial"
	flagDynamicTrials    = "dynamic-trial"
	flagCameras          = "cameras"
	flagConfig           = "config"
	flagPoseDetector     = "pose-detector"
	flagResolution       = "resolution"
	flagThreshold        = "confidence-threshold"
	flagFilterFrequency  = "filter-frequency"
	flagRotation         = "rotation"
	flagBoardWidth       = "board-width"
	flagBoardHeight      = "board-height"
	flagSquareSize       = "square-size-mm"
	flagPlacement        = "placement"
	flagFrameRate        = "frame-rate"
	flagCamera           = "camera"
	flagSolution         = "solution"
	flagDebug            = "debug"
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "mocap",
		Usage: "process a multi-camera motion capture session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagSession,
				Aliases:  []string{"s"},
				Usage:    "session directory holding Videos/ and sessionMetadata.yaml",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("mocap")
			} else {
				logger = logging.NewLogger("mocap")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "process",
				Usage: "run calibration, static, and dynamic trials for the session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagCalibrationTrial,
						Value: "calibration",
						Usage: "name of the calibration trial",
					},
					&cli.StringFlag{
						Name:  flagStaticTrial,
						Usage: "name of the static (neutral pose) trial, skipped when empty",
					},
					&cli.StringSliceFlag{
						Name:  flagDynamicTrials,
						Usage: "name of a dynamic trial, repeatable",
					},
					&cli.StringSliceFlag{
						Name:  flagCameras,
						Value: cli.NewStringSlice(session.CamerasAll),
						Usage: "camera selection: 'all', 'all_available', or explicit names",
					},
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "load trial settings defaults from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagPoseDetector,
						Value: "hrnet",
						Usage: "external pose detector recorded in trial settings",
					},
					&cli.StringFlag{
						Name:  flagResolution,
						Value: "default",
						Usage: "pose detector resolution recorded in trial settings",
					},
					&cli.Float64Flag{
						Name:  flagThreshold,
						Value: 0.3,
						Usage: "keypoint confidence threshold for triangulation",
					},
					&cli.Float64Flag{
						Name:  flagFilterFrequency,
						Value: 12,
						Usage: "lowpass filter frequency recorded in trial settings",
					},
					&cli.IntFlag{
						Name:  flagRotation,
						Usage: "sensor rotation of the input video in degrees (0/90/180/270)",
					},
					&cli.IntFlag{
						Name:  flagBoardWidth,
						Value: 11,
						Usage: "checkerboard interior corners across, used when no session metadata exists",
					},
					&cli.IntFlag{
						Name:  flagBoardHeight,
						Value: 8,
						Usage: "checkerboard interior corners down, used when no session metadata exists",
					},
					&cli.Float64Flag{
						Name:  flagSquareSize,
						Value: 60,
						Usage: "checkerboard square side in mm, used when no session metadata exists",
					},
					&cli.StringFlag{
						Name:  flagPlacement,
						Value: "backWall",
						Usage: "checkerboard placement (backWall or ground), used when no session metadata exists",
					},
					&cli.Float64Flag{
						Name:  flagFrameRate,
						Value: 60,
						Usage: "capture frame rate, used when no session metadata exists",
					},
				},
				Action: func(c *cli.Context) error {
					return processAction(c, logger)
				},
			},
			{
				Name:  "select",
				Usage: "re-select a camera's extrinsic solution for the session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagCamera,
						Usage:    "camera name",
						Required: true,
					},
					&cli.IntFlag{
						Name:     flagSolution,
						Usage:    "solution index (0 or 1)",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					return selectAction(c, logger)
				},
			},
			{
				Name:  "reconcile",
				Usage: "force every camera's working extrinsics to match the persisted selection",
				Action: func(c *cli.Context) error {
					return reconcileAction(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func processAction(c *cli.Context, logger logging.Logger) error {
	meta := &session.Metadata{
		FrameRate: c.Float64(flagFrameRate),
		Checkerboard: session.CheckerboardMeta{
			CornersWidth:  c.Int(flagBoardWidth),
			CornersHeight: c.Int(flagBoardHeight),
			SquareSizeMM:  c.Float64(flagSquareSize),
			Placement:     c.String(flagPlacement),
		},
	}
	sess, err := session.New(c.String(flagSession), meta, logger)
	if err != nil {
		return err
	}
	settings := &session.Settings{
		PoseDetector:        c.String(flagPoseDetector),
		Resolution:          c.String(flagResolution),
		ConfidenceThreshold: c.Float64(flagThreshold),
		FilterFrequencyHz:   c.Float64(flagFilterFrequency),
	}
	if path := c.String(flagConfig); path != "" {
		loaded, err := session.LoadSettings(path)
		if err != nil {
			return err
		}
		if loaded == nil {
			return errors.Errorf("settings file %s does not exist", path)
		}
		settings = loaded
	}
	rotation, err := video.ParseRotation(c.Int(flagRotation))
	if err != nil {
		return err
	}

	runner := &trialRunner{
		sess:        sess,
		settings:    settings,
		cameras:     c.StringSlice(flagCameras),
		rotation:    rotation,
		debugClouds: c.Bool(flagDebug),
		logger:      logger,
	}
	if err := runner.runCalibration(c.Context, c.String(flagCalibrationTrial)); err != nil {
		return err
	}
	if name := c.String(flagStaticTrial); name != "" {
		if err := runner.runReconstruction(c.Context, name, session.KindStatic); err != nil {
			return err
		}
	}
	for _, name := range c.StringSlice(flagDynamicTrials) {
		if err := runner.runReconstruction(c.Context, name, session.KindDynamic); err != nil {
			return err
		}
	}
	return sess.WriteReport()
}

func selectAction(c *cli.Context, logger logging.Logger) error {
	layout := session.Layout{Root: c.String(flagSession)}
	store := selection.NewStore(layout.SelectionPath(), layout.ExtrinsicArtifacts(), logger)
	return store.Select(c.String(flagCamera), c.Int(flagSolution), "manual re-selection")
}

func reconcileAction(c *cli.Context, logger logging.Logger) error {
	layout := session.Layout{Root: c.String(flagSession)}
	store := selection.NewStore(layout.SelectionPath(), layout.ExtrinsicArtifacts(), logger)
	rec, err := store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("session has no calibration selection record")
	}
	names := make([]string, 0, len(rec.Selections))
	for name := range rec.Selections {
		names = append(names, name)
	}
	return store.ReconcileAll(names)
}

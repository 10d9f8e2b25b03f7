package calib

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/chessboard"
	"go.viam.com/mocap/errcode"
	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/video"
)

var testSpec = &board.Spec{
	Width: 5, Height: 4, SquareSizeMM: 60, Placement: board.PlacementWall,
}

func groundTruthCamera() *camera.Camera {
	return &camera.Camera{
		Name: "cam0",
		Intrinsics: camera.Intrinsics{
			Width: 1280, Height: 720,
			Fx: 900, Fy: 880, Ppx: 640, Ppy: 360,
		},
	}
}

// syntheticViews builds n board poses spread over tilts about both axes, all
// facing the camera from about 1.5m.
func syntheticViews(n int) map[int]chessboard.BoardView {
	views := map[int]chessboard.BoardView{}
	for i := 0; i < n; i++ {
		axis := "x"
		if i%2 == 1 {
			axis = "y"
		}
		angle := 0.15 + 0.04*float64(i)
		if i%3 == 2 {
			angle = -angle
		}
		views[i] = chessboard.BoardView{
			Rotation:    chessboard.RotationAbout(axis, angle),
			Translation: []float64{-140 + 10*float64(i%4), -100 + 8*float64(i%3), 1500 + 40*float64(i)},
		}
	}
	return views
}

func TestCalibrateIntrinsicsRecoversCamera(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := groundTruthCamera()
	src := &video.SyntheticSource{SourceName: "cam0", Frames: 20, Width: 1280, Height: 720}
	detector := &chessboard.SyntheticDetector{Camera: truth, Views: syntheticViews(20)}

	cam, err := CalibrateIntrinsics(src, detector, testSpec, &IntrinsicOptions{TargetImageCount: 20}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Intrinsics.Width, test.ShouldEqual, 1280)
	test.That(t, cam.Intrinsics.Height, test.ShouldEqual, 720)
	test.That(t, cam.Intrinsics.Fx, test.ShouldAlmostEqual, truth.Intrinsics.Fx, 5)
	test.That(t, cam.Intrinsics.Fy, test.ShouldAlmostEqual, truth.Intrinsics.Fy, 5)
	test.That(t, cam.Intrinsics.Ppx, test.ShouldAlmostEqual, truth.Intrinsics.Ppx, 5)
	test.That(t, cam.Intrinsics.Ppy, test.ShouldAlmostEqual, truth.Intrinsics.Ppy, 5)
	test.That(t, cam.ReprojectionError, test.ShouldBeLessThan, 0.5)
	test.That(t, cam.Intrinsics.FocalRatioSuspect(), test.ShouldBeFalse)
}

func TestCalibrateIntrinsicsTooFewDetections(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := groundTruthCamera()
	src := &video.SyntheticSource{SourceName: "cam0", Frames: 20, Width: 1280, Height: 720}
	// board visible in only 9 frames, one short of the minimum
	detector := &chessboard.SyntheticDetector{Camera: truth, Views: syntheticViews(9)}

	_, err := CalibrateIntrinsics(src, detector, testSpec, &IntrinsicOptions{TargetImageCount: 20}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errcode.IsKind(err, errcode.InsufficientCalibrationImages), test.ShouldBeTrue)
}

func TestCalibrateIntrinsicsUsesDisplayDimensions(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := &camera.Camera{
		Name: "portrait",
		Intrinsics: camera.Intrinsics{
			Width: 720, Height: 1280,
			Fx: 900, Fy: 880, Ppx: 360, Ppy: 640,
		},
	}
	// stored landscape with a 90 degree rotation flag
	src := &video.SyntheticSource{
		SourceName: "portrait", Frames: 20,
		Width: 1280, Height: 720, Rot: video.Rotation90,
	}
	views := syntheticViews(20)
	for i, v := range views {
		v.Translation = []float64{-100 + 10*float64(i%3), -140 + 8*float64(i%4), 1500 + 40*float64(i)}
		views[i] = v
	}
	detector := &chessboard.SyntheticDetector{Camera: truth, Views: views}

	cam, err := CalibrateIntrinsics(src, detector, testSpec, &IntrinsicOptions{TargetImageCount: 20}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Intrinsics.Width, test.ShouldEqual, 720)
	test.That(t, cam.Intrinsics.Height, test.ShouldEqual, 1280)
	test.That(t, cam.Intrinsics.FocalRatioSuspect(), test.ShouldBeFalse)
}

func TestAverageIntrinsics(t *testing.T) {
	a := groundTruthCamera()
	b := groundTruthCamera()
	b.Intrinsics.Fx = 920
	b.Intrinsics.Fy = 900
	avg, err := AverageIntrinsics([]*camera.Camera{a, b})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, avg.Intrinsics.Fx, test.ShouldAlmostEqual, 910)
	test.That(t, avg.Intrinsics.Fy, test.ShouldAlmostEqual, 890)

	c := groundTruthCamera()
	c.Intrinsics.Width = 1920
	_, err = AverageIntrinsics([]*camera.Camera{a, c})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = AverageIntrinsics(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

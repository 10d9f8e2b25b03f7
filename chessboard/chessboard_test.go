package chessboard

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"go.viam.com/mocap/board"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/video"
)

func TestSyntheticDetector(t *testing.T) {
	spec := &board.Spec{Width: 5, Height: 4, SquareSizeMM: 60, Placement: board.PlacementWall}
	cam := &camera.Camera{
		Intrinsics: camera.Intrinsics{Width: 1280, Height: 720, Fx: 900, Fy: 900, Ppx: 640, Ppy: 360},
	}
	detector := &SyntheticDetector{
		Camera: cam,
		Views: map[int]BoardView{
			2: {Rotation: RotationAbout("x", 0.2), Translation: []float64{-120, -90, 1500}},
		},
	}

	frame := &video.Frame{Index: 2, Gray: image.NewGray(image.Rect(0, 0, 1, 1))}
	corners, err := detector.FindCorners(frame, spec)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(corners.Points), test.ShouldEqual, spec.NumCorners())

	// frames with no registered view simulate detection failure
	frame.Index = 3
	_, err = detector.FindCorners(frame, spec)
	test.That(t, err, test.ShouldEqual, ErrBoardNotFound)
}

func TestRefineCornersLeavesBorderPointsAlone(t *testing.T) {
	// refinement windows that leave the image are skipped, so corners on a
	// tiny image pass through untouched
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	in := &Corners{Points: []r2.Point{{X: 0.5, Y: 0.5}}}
	out := RefineCorners(img, in, &DefaultRefineConf)
	test.That(t, out.Points, test.ShouldResemble, in.Points)
}

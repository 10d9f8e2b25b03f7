package camera

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

var testIntrinsics = Intrinsics{
	Width: 1280, Height: 720,
	Fx: 900, Fy: 900, Ppx: 640, Ppy: 360,
}

func TestIntrinsicsCheckValid(t *testing.T) {
	good := testIntrinsics
	test.That(t, good.CheckValid(), test.ShouldBeNil)

	var nilParams *Intrinsics
	test.That(t, errors.Is(nilParams.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	bad := good
	bad.Fx = 0
	err := bad.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	bad = good
	bad.Width = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestFocalRatioSuspect(t *testing.T) {
	intr := testIntrinsics
	test.That(t, intr.FocalRatioSuspect(), test.ShouldBeFalse)

	// fx/fy swap from feeding storage dimensions of rotated video
	intr.Fx = 900
	intr.Fy = 500
	test.That(t, intr.FocalRatio(), test.ShouldAlmostEqual, 1.8)
	test.That(t, intr.FocalRatioSuspect(), test.ShouldBeTrue)

	intr.Fx = 500
	intr.Fy = 900
	test.That(t, intr.FocalRatioSuspect(), test.ShouldBeTrue)
}

func TestMatrix(t *testing.T) {
	k := testIntrinsics.Matrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 900.0)
	test.That(t, k.At(1, 1), test.ShouldEqual, 900.0)
	test.That(t, k.At(0, 2), test.ShouldEqual, 640.0)
	test.That(t, k.At(1, 2), test.ShouldEqual, 360.0)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
	test.That(t, k.At(0, 1), test.ShouldEqual, 0.0)
}

func TestDistortRoundTrip(t *testing.T) {
	dist := Distortion{K1: -0.12, K2: 0.03, P1: 0.001, P2: -0.0005, K3: 0.002}
	for _, pt := range [][2]float64{{0, 0}, {0.1, 0.2}, {-0.3, 0.15}, {0.25, -0.25}} {
		xd, yd := dist.Transform(pt[0], pt[1])
		x, y := dist.Undistort(xd, yd)
		test.That(t, x, test.ShouldAlmostEqual, pt[0], 1e-8)
		test.That(t, y, test.ShouldAlmostEqual, pt[1], 1e-8)
	}
}

func TestProjectionRoundTrip(t *testing.T) {
	cam := &Camera{
		Name:       "cam0",
		Intrinsics: testIntrinsics,
		Distortion: Distortion{K1: -0.1, K2: 0.02},
	}
	u, v := cam.DistortedPixel(120, -80, 1000)
	x, y := cam.UndistortedNormalized(u, v)
	test.That(t, x, test.ShouldAlmostEqual, 0.12, 1e-8)
	test.That(t, y, test.ShouldAlmostEqual, -0.08, 1e-8)

	// point on the camera plane cannot project
	u, v = cam.DistortedPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.0)
	test.That(t, v, test.ShouldEqual, -1.0)
}

func TestSaveLoad(t *testing.T) {
	cam := &Camera{
		Name:              "cam1",
		Intrinsics:        testIntrinsics,
		Distortion:        Distortion{K1: -0.2, K2: 0.05},
		ReprojectionError: 0.42,
	}
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	test.That(t, cam.Save(path), test.ShouldBeNil)

	loaded, err := LoadCamera(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldResemble, cam)

	_, err = LoadCamera(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

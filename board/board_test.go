package board

import (
	"testing"

	"go.viam.com/test"
)

func TestParsePlacement(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Placement
	}{
		{"backWall", PlacementWall},
		{"Perpendicular", PlacementWall},
		{"ground", PlacementGround},
		{"Lying", PlacementGround},
	} {
		got, err := ParsePlacement(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, tc.want)
	}

	_, err := ParsePlacement("ceiling")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ceiling")
}

func TestSpecValidate(t *testing.T) {
	valid := Spec{Width: 11, Height: 8, SquareSizeMM: 60, Placement: PlacementWall}
	test.That(t, valid.Validate(), test.ShouldBeNil)

	tooSmall := valid
	tooSmall.Width = 1
	test.That(t, tooSmall.Validate(), test.ShouldNotBeNil)

	square := valid
	square.Height = 11
	err := square.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "square")

	badSize := valid
	badSize.SquareSizeMM = 0
	test.That(t, badSize.Validate(), test.ShouldNotBeNil)

	badPlacement := valid
	badPlacement.Placement = "ceiling"
	test.That(t, badPlacement.Validate(), test.ShouldNotBeNil)
}

func TestObjectPoints(t *testing.T) {
	spec := Spec{Width: 3, Height: 2, SquareSizeMM: 50, Placement: PlacementGround}
	pts := spec.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, spec.NumCorners())
	test.That(t, pts[0].X, test.ShouldEqual, 0.0)
	test.That(t, pts[0].Y, test.ShouldEqual, 0.0)
	// row-major: second point is one square along X
	test.That(t, pts[1].X, test.ShouldEqual, 50.0)
	test.That(t, pts[1].Y, test.ShouldEqual, 0.0)
	// second row starts one square along Y
	test.That(t, pts[3].X, test.ShouldEqual, 0.0)
	test.That(t, pts[3].Y, test.ShouldEqual, 50.0)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0.0)
	}
}

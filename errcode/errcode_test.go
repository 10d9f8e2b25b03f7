package errcode

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestTaggedError(t *testing.T) {
	err := Newf(InsufficientCalibrationImages, "only %d valid detections, need %d", 4, 10)
	test.That(t, err.Error(), test.ShouldContainSubstring, "only 4 valid detections")
	test.That(t, IsKind(err, InsufficientCalibrationImages), test.ShouldBeTrue)
	test.That(t, IsKind(err, ExtrinsicCalibrationFailed), test.ShouldBeFalse)
	test.That(t, KindOf(err), test.ShouldEqual, InsufficientCalibrationImages)
}

func TestWrappedChain(t *testing.T) {
	cause := errors.New("disk went away")
	err := Wrap(cause, CalibrationConsistencyViolation, "failed to overwrite active extrinsics")
	test.That(t, errors.Is(err, CalibrationConsistencyViolation), test.ShouldBeTrue)
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk went away")

	// tags survive further wrapping
	outer := errors.Wrap(err, "trial walk2 failed")
	test.That(t, IsKind(outer, CalibrationConsistencyViolation), test.ShouldBeTrue)
	test.That(t, KindOf(outer), test.ShouldEqual, CalibrationConsistencyViolation)

	test.That(t, Wrap(nil, UnsupportedPlacement, "x"), test.ShouldBeNil)
}

func TestWithDetail(t *testing.T) {
	err := New(ExtrinsicCalibrationFailed, "no detectable board").
		WithDetail("source %s, probed %d frames", "cam0.mov", 30)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cam0.mov")
	test.That(t, err.Error(), test.ShouldContainSubstring, "probed 30 frames")
}

func TestKindOfUntagged(t *testing.T) {
	test.That(t, KindOf(errors.New("plain")), test.ShouldEqual, Kind(""))
	test.That(t, IsKind(errors.New("plain"), UnsupportedPlacement), test.ShouldBeFalse)
}

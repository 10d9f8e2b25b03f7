package session

import (
	"testing"

	"go.viam.com/test"
)

func TestParseKind(t *testing.T) {
	for _, s := range []string{"calibration", "static", "dynamic"} {
		kind, err := ParseKind(s)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(kind), test.ShouldEqual, s)
	}
	_, err := ParseKind("warmup")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewTrial(t *testing.T) {
	trial := NewTrial("walk1", KindDynamic, []string{"cam0", "cam1"})
	test.That(t, trial.ID, test.ShouldNotBeEmpty)
	test.That(t, trial.State(), test.ShouldEqual, StatePending)
	test.That(t, trial.StartedAt().IsZero(), test.ShouldBeTrue)
	test.That(t, trial.FinishedAt().IsZero(), test.ShouldBeTrue)
	test.That(t, trial.Duration(), test.ShouldEqual, 0)

	other := NewTrial("walk1", KindDynamic, nil)
	test.That(t, other.ID, test.ShouldNotEqual, trial.ID)
}

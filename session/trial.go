package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind is the trial kind. The kinds form a dependency chain: static and
// dynamic trials consume the calibration trial's selected extrinsics, and
// dynamic trials prefer the static trial's scaled model.
type Kind string

// Trial kinds.
const (
	KindCalibration Kind = "calibration"
	KindStatic      Kind = "static"
	KindDynamic     Kind = "dynamic"
)

// ParseKind validates a trial kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCalibration, KindStatic, KindDynamic:
		return Kind(s), nil
	default:
		return "", errors.Errorf("unknown trial kind %q", s)
	}
}

// State is a trial's lifecycle state.
type State string

// Trial lifecycle states. FailedPartial means the run failed but some
// intermediate artifacts were salvaged into a manifest.
const (
	StatePending       State = "pending"
	StateRunning       State = "running"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
	StateFailedPartial State = "failed-partial"
)

// Trial is one processing unit within a session. Its state advances
// monotonically: pending, running, then exactly one terminal state.
type Trial struct {
	ID      string
	Name    string
	Kind    Kind
	Cameras []string

	state      State
	startedAt  time.Time
	finishedAt time.Time
}

// NewTrial returns a pending trial.
func NewTrial(name string, kind Kind, cameras []string) *Trial {
	return &Trial{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		Cameras: cameras,
		state:   StatePending,
	}
}

// State returns the current lifecycle state.
func (t *Trial) State() State { return t.state }

// StartedAt returns when the trial entered running, zero if it never ran.
func (t *Trial) StartedAt() time.Time { return t.startedAt }

// FinishedAt returns when the trial reached a terminal state, zero if it
// has not.
func (t *Trial) FinishedAt() time.Time { return t.finishedAt }

// Duration returns how long the trial ran.
func (t *Trial) Duration() time.Duration {
	if t.startedAt.IsZero() || t.finishedAt.IsZero() {
		return 0
	}
	return t.finishedAt.Sub(t.startedAt)
}

func (t *Trial) start(now time.Time) error {
	if t.state != StatePending {
		return errors.Errorf("trial %s cannot start from state %s", t.Name, t.state)
	}
	t.state = StateRunning
	t.startedAt = now
	return nil
}

func (t *Trial) finish(now time.Time, terminal State) error {
	if t.state != StateRunning {
		return errors.Errorf("trial %s cannot finish from state %s", t.Name, t.state)
	}
	switch terminal {
	case StateSucceeded, StateFailed, StateFailedPartial:
	default:
		return errors.Errorf("state %s is not terminal", terminal)
	}
	t.state = terminal
	t.finishedAt = now
	return nil
}

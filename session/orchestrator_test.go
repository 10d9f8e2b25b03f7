package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gopkg.in/yaml.v3"

	"go.viam.com/mocap/logging"
)

func newTestSession(t *testing.T, logger logging.Logger) (*Session, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	sess, err := NewWithClock(t.TempDir(), testMetadata(), mock, logger)
	test.That(t, err, test.ShouldBeNil)
	return sess, mock
}

func succeedWith(res *Result) Processor {
	return ProcessorFunc(func(context.Context, *Trial, *Settings) (*Result, error) {
		return res, nil
	})
}

func TestNewCreatesMetadataOnce(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	sess, err := New(root, testMetadata(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess.Metadata().SubjectID, test.ShouldEqual, "subj01")

	// an existing record wins over the provided default
	other := testMetadata()
	other.SubjectID = "someone-else"
	again, err := New(root, other, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Metadata().SubjectID, test.ShouldEqual, "subj01")

	_, err = New(t.TempDir(), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunSuccessLifecycle(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sess, mock := newTestSession(t, logger)
	trial := NewTrial("walk1", KindDynamic, nil)

	settings := &Settings{PoseDetector: "hrnet", ConfidenceThreshold: 0.3}
	proc := ProcessorFunc(func(context.Context, *Trial, *Settings) (*Result, error) {
		mock.Add(3 * time.Minute)
		return &Result{
			Outputs:         []string{"out.json"},
			VerticalOffsetM: -0.05,
		}, nil
	})
	test.That(t, sess.Run(context.Background(), trial, settings, proc), test.ShouldBeNil)
	test.That(t, trial.State(), test.ShouldEqual, StateSucceeded)
	test.That(t, trial.Duration(), test.ShouldEqual, 3*time.Minute)

	// the settings record was rewritten with the solved vertical offset
	loaded, err := LoadSettings(sess.Layout().SettingsPath("walk1"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.VerticalOffsetM, test.ShouldAlmostEqual, -0.05)

	// running an already-finished trial is rejected
	err = sess.Run(context.Background(), trial, settings, succeedWith(&Result{}))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunFailureSalvagesPartials(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sess, _ := newTestSession(t, logger)
	trial := NewTrial("walk2", KindDynamic, nil)

	// the run writes its marker data before failing downstream
	markerPath := sess.Layout().MarkerDataPath("walk2")
	proc := ProcessorFunc(func(context.Context, *Trial, *Settings) (*Result, error) {
		if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(markerPath, []byte("{}"), 0o644); err != nil {
			return nil, err
		}
		return nil, errors.New("solver exploded")
	})
	err := sess.Run(context.Background(), trial, &Settings{}, proc)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "solver exploded")
	test.That(t, trial.State(), test.ShouldEqual, StateFailedPartial)

	// the salvage manifest names what survived
	data, err := os.ReadFile(sess.Layout().SalvagePath("walk2"))
	test.That(t, err, test.ShouldBeNil)
	manifest := &SalvageManifest{}
	test.That(t, yaml.Unmarshal(data, manifest), test.ShouldBeNil)
	test.That(t, manifest.Trial, test.ShouldEqual, "walk2")
	test.That(t, manifest.Artifacts, test.ShouldContain, markerPath)
}

func TestRunFailureWithNothingToSalvage(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sess, _ := newTestSession(t, logger)
	trial := NewTrial("walk3", KindDynamic, nil)

	proc := ProcessorFunc(func(context.Context, *Trial, *Settings) (*Result, error) {
		return nil, errors.New("no detector output")
	})
	err := sess.Run(context.Background(), trial, &Settings{}, proc)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, trial.State(), test.ShouldEqual, StateFailed)
	_, statErr := os.Stat(sess.Layout().SalvagePath("walk3"))
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestStaticTrialCachesScaledModel(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	sess, _ := newTestSession(t, logger)

	// dynamic before any static: fall back with a warning
	dynamic := NewTrial("walk1", KindDynamic, nil)
	test.That(t, sess.Run(context.Background(), dynamic, &Settings{}, succeedWith(&Result{})), test.ShouldBeNil)
	test.That(t, observed.FilterMessageSnippet("no scaled model").Len(), test.ShouldBeGreaterThan, 0)

	static := NewTrial("neutral", KindStatic, nil)
	modelPath := filepath.Join(sess.Layout().ModelDir(), "scaled.osim")
	res := &Result{ScaledModelPath: modelPath}
	test.That(t, sess.Run(context.Background(), static, &Settings{}, succeedWith(res)), test.ShouldBeNil)
	test.That(t, sess.Metadata().ScaledModel, test.ShouldEqual, modelPath)

	// the cache survives reopening the session
	reopened, err := New(sess.Layout().Root, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reopened.Metadata().ScaledModel, test.ShouldEqual, modelPath)

	// later dynamic trials no longer warn
	before := observed.FilterMessageSnippet("no scaled model").Len()
	dynamic2 := NewTrial("walk2", KindDynamic, nil)
	test.That(t, sess.Run(context.Background(), dynamic2, &Settings{}, succeedWith(&Result{})), test.ShouldBeNil)
	test.That(t, observed.FilterMessageSnippet("no scaled model").Len(), test.ShouldEqual, before)
}

func TestRerunDeletesOnlyOwnOutputs(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sess, _ := newTestSession(t, logger)
	layout := sess.Layout()

	rawPath := writeRawVideo(t, layout, "cam0", "calib1")
	stale := []string{
		layout.IntrinsicsPath("cam0"),
		layout.ExtrinsicArtifacts()("cam0").Active,
		layout.ExtrinsicArtifacts()("cam0").Candidates[0],
		layout.SelectionPath(),
	}
	for _, path := range stale {
		test.That(t, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
		test.That(t, os.WriteFile(path, []byte("stale"), 0o644), test.ShouldBeNil)
	}
	marker := layout.MarkerDataPath("walk1")
	test.That(t, os.MkdirAll(filepath.Dir(marker), 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(marker, []byte("other trial"), 0o644), test.ShouldBeNil)

	trial := NewTrial("calib1", KindCalibration, []string{"cam0"})
	test.That(t, sess.Run(context.Background(), trial, &Settings{}, succeedWith(&Result{})), test.ShouldBeNil)

	// the prior calibration artifacts are gone
	for _, path := range stale {
		_, err := os.Stat(path)
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	}
	// the raw input video and another kind's outputs survive
	_, err := os.Stat(rawPath)
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(marker)
	test.That(t, err, test.ShouldBeNil)
}

func TestWriteReport(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sess, _ := newTestSession(t, logger)

	trial := NewTrial("walk1", KindDynamic, nil)
	res := &Result{Outputs: []string{"MarkerData/walk1.json"}}
	test.That(t, sess.Run(context.Background(), trial, &Settings{}, succeedWith(res)), test.ShouldBeNil)
	test.That(t, sess.WriteReport(), test.ShouldBeNil)

	data, err := os.ReadFile(sess.Layout().ReportPath())
	test.That(t, err, test.ShouldBeNil)
	report := &Report{}
	test.That(t, yaml.Unmarshal(data, report), test.ShouldBeNil)
	test.That(t, report.Outputs["dynamic"], test.ShouldContain, "MarkerData/walk1.json")
}

package selection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/errcode"
	"go.viam.com/mocap/logging"
)

func writeCandidates(t *testing.T, layout Layout, cameraName string) CameraArtifacts {
	t.Helper()
	arts := layout(cameraName)
	test.That(t, os.MkdirAll(filepath.Dir(arts.Active), 0o755), test.ShouldBeNil)
	for i := range arts.Candidates {
		rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		ext := calib.NewExtrinsic(rot, r3.Vector{X: float64(100 * (i + 1)), Z: 2000})
		test.That(t, ext.Save(arts.Candidates[i]), test.ShouldBeNil)
	}
	return arts
}

func newTestStore(t *testing.T) (*Store, Layout, *clock.Mock) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	layout := DirLayout(root)
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := NewStoreWithClock(filepath.Join(root, "calibrationSelections.json"), layout, mock, logger)
	return store, layout, mock
}

func TestSelectPersistLoad(t *testing.T) {
	store, layout, _ := newTestStore(t)
	arts := writeCandidates(t, layout, "cam0")

	test.That(t, store.Select("cam0", 1, "operator picked the flipped pose"), test.ShouldBeNil)

	rec, err := store.Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec, test.ShouldNotBeNil)
	test.That(t, rec.Selections["cam0"], test.ShouldEqual, 1)
	test.That(t, rec.Provenance, test.ShouldEqual, "operator picked the flipped pose")
	test.That(t, rec.ID, test.ShouldNotBeEmpty)

	// the active file now matches candidate 1
	active, err := os.ReadFile(arts.Active)
	test.That(t, err, test.ShouldBeNil)
	cand, err := os.ReadFile(arts.Candidates[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(active), test.ShouldEqual, string(cand))

	test.That(t, store.Select("cam0", 2, "x"), test.ShouldNotBeNil)
	test.That(t, store.Select("cam0", -1, "x"), test.ShouldNotBeNil)
}

func TestLoadAbsent(t *testing.T) {
	store, _, _ := newTestStore(t)
	rec, err := store.Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec, test.ShouldBeNil)
}

func TestSelectIdempotent(t *testing.T) {
	store, layout, mock := newTestStore(t)
	writeCandidates(t, layout, "cam0")

	test.That(t, store.Select("cam0", 0, "first"), test.ShouldBeNil)
	first, err := os.ReadFile(store.Path())
	test.That(t, err, test.ShouldBeNil)

	// re-selecting the same solution later must not rewrite the record
	mock.Add(time.Hour)
	test.That(t, store.Select("cam0", 0, "second"), test.ShouldBeNil)
	second, err := os.ReadFile(store.Path())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(second), test.ShouldEqual, string(first))
}

func TestReconcileCorrectsTamperedActive(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	root := t.TempDir()
	layout := DirLayout(root)
	store := NewStoreWithClock(filepath.Join(root, "sel.json"), layout, clock.NewMock(), logger)
	arts := writeCandidates(t, layout, "cam0")

	test.That(t, store.Select("cam0", 1, "initial"), test.ShouldBeNil)

	// something overwrote the active record with the wrong solution
	cand0, err := os.ReadFile(arts.Candidates[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(arts.Active, cand0, 0o644), test.ShouldBeNil)

	test.That(t, store.Reconcile("cam0"), test.ShouldBeNil)
	active, err := os.ReadFile(arts.Active)
	test.That(t, err, test.ShouldBeNil)
	cand1, err := os.ReadFile(arts.Candidates[1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(active), test.ShouldEqual, string(cand1))
	test.That(t, observed.FilterMessageSnippet("do not match").Len(), test.ShouldBeGreaterThan, 0)
}

func TestReconcileDefaultsAbsentCamera(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	root := t.TempDir()
	layout := DirLayout(root)
	store := NewStoreWithClock(filepath.Join(root, "sel.json"), layout, clock.NewMock(), logger)
	arts := writeCandidates(t, layout, "cam1")

	// no record at all: camera defaults to solution 0 with a warning
	test.That(t, store.Reconcile("cam1"), test.ShouldBeNil)
	active, err := os.ReadFile(arts.Active)
	test.That(t, err, test.ShouldBeNil)
	cand0, err := os.ReadFile(arts.Candidates[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(active), test.ShouldEqual, string(cand0))
	test.That(t, observed.FilterMessageSnippet("defaulting").Len(), test.ShouldBeGreaterThan, 0)
}

func TestReconcileMissingCandidate(t *testing.T) {
	store, _, _ := newTestStore(t)
	err := store.Reconcile("ghost")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errcode.IsKind(err, errcode.CalibrationConsistencyViolation), test.ShouldBeTrue)
}

func TestReconcileAll(t *testing.T) {
	store, layout, _ := newTestStore(t)
	writeCandidates(t, layout, "cam0")
	writeCandidates(t, layout, "cam1")
	test.That(t, store.Select("cam0", 0, "init"), test.ShouldBeNil)
	test.That(t, store.Select("cam1", 1, "init"), test.ShouldBeNil)
	test.That(t, store.ReconcileAll([]string{"cam0", "cam1"}), test.ShouldBeNil)
}

func TestWatchSeesExternalEdit(t *testing.T) {
	store, layout, _ := newTestStore(t)
	writeCandidates(t, layout, "cam0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := store.Watch(ctx)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, store.Select("cam0", 1, "external edit"), test.ShouldBeNil)

	select {
	case rec := <-updates:
		test.That(t, rec, test.ShouldNotBeNil)
		test.That(t, rec.Selections["cam0"], test.ShouldEqual, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch event for selection write")
	}

	cancel()
	select {
	case _, ok := <-updates:
		test.That(t, ok, test.ShouldBeFalse)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel did not close on cancel")
	}
}

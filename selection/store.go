// Package selection persists which of the two extrinsic solutions each
// camera uses for a session, and keeps every trial's working extrinsics
// consistent with that choice.
//
// The invariant this store exists to protect: once a selection is made, every
// subsequent trial in the session must run against the same solution per
// camera. A violation does not fail loudly anywhere downstream; it silently
// produces per-trial coordinate frames that cannot be compared, so the store
// reconciles by file content before every non-calibration trial.
package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/errcode"
	"go.viam.com/mocap/logging"
)

// DefaultSolution is used for any camera absent from the persisted mapping.
const DefaultSolution = 0

// CameraArtifacts names the on-disk extrinsics files of one camera: the
// active record trials read, plus the two candidate variants.
type CameraArtifacts struct {
	Active     string
	Candidates [calib.NumExtrinsicSolutions]string
}

// Layout maps a camera name to its artifact paths.
type Layout func(cameraName string) CameraArtifacts

// DirLayout is the standard layout: per-camera directories under root, with
// extrinsics.json as the active record and extrinsics_soln{0,1}.json as the
// candidates.
func DirLayout(root string) Layout {
	return func(cameraName string) CameraArtifacts {
		dir := filepath.Join(root, cameraName)
		return CameraArtifacts{
			Active: filepath.Join(dir, "extrinsics.json"),
			Candidates: [calib.NumExtrinsicSolutions]string{
				filepath.Join(dir, "extrinsics_soln0.json"),
				filepath.Join(dir, "extrinsics_soln1.json"),
			},
		}
	}
}

// Record is the persisted session-scoped selection.
type Record struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Provenance string         `json:"provenance"`
	Selections map[string]int `json:"selections"`
}

// Solution returns the selected solution for a camera, defaulting to
// DefaultSolution (with ok=false) when the camera is absent.
func (r *Record) Solution(cameraName string) (int, bool) {
	if r == nil || r.Selections == nil {
		return DefaultSolution, false
	}
	sol, ok := r.Selections[cameraName]
	if !ok {
		return DefaultSolution, false
	}
	return sol, true
}

// Store is the calibration selection store for one session. It is not safe
// for concurrent writers; trials within a session run strictly sequentially.
type Store struct {
	path   string
	layout Layout
	clock  clock.Clock
	logger logging.Logger
}

// NewStore returns a store persisting at path, resolving camera artifacts
// through layout.
func NewStore(path string, layout Layout, logger logging.Logger) *Store {
	return &Store{path: path, layout: layout, clock: clock.New(), logger: logger}
}

// NewStoreWithClock is NewStore with an injected clock, for tests.
func NewStoreWithClock(path string, layout Layout, c clock.Clock, logger logging.Logger) *Store {
	return &Store{path: path, layout: layout, clock: c, logger: logger}
}

// Path returns the record's file path.
func (s *Store) Path() string { return s.path }

// Load reads the persisted record, or returns nil when none exists yet.
func (s *Store) Load() (*Record, error) {
	//nolint:gosec
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error reading selection record")
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "error parsing selection record")
	}
	return rec, nil
}

// Select records the chosen solution for a camera and applies it to the
// camera's active extrinsics file. The record write is read-modify-write with
// an atomic replace; re-selecting an identical solution changes no file
// content.
func (s *Store) Select(cameraName string, solution int, provenance string) error {
	if solution < 0 || solution >= calib.NumExtrinsicSolutions {
		return errors.Errorf("solution index must be 0 or 1, got %d", solution)
	}
	rec, err := s.Load()
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	if rec == nil {
		rec = &Record{
			ID:         uuid.NewString(),
			CreatedAt:  now,
			Selections: map[string]int{},
		}
	}
	if prev, ok := rec.Selections[cameraName]; !ok || prev != solution {
		rec.Selections[cameraName] = solution
		rec.UpdatedAt = now
		rec.Provenance = provenance
		if err := s.persist(rec); err != nil {
			return err
		}
		s.logger.Infow("recorded extrinsic solution selection",
			"camera", cameraName, "solution", solution, "provenance", provenance)
	}
	return s.applySolution(cameraName, solution)
}

// Reconcile forces the camera's active extrinsics to match the persisted
// selection, comparing by content hash rather than trusting prior state.
// It must run before every non-calibration trial. A detected mismatch is a
// consistency violation that gets auto-corrected and logged; the error
// returns only when correction itself fails.
func (s *Store) Reconcile(cameraName string) error {
	rec, err := s.Load()
	if err != nil {
		return err
	}
	solution, ok := rec.Solution(cameraName)
	if !ok {
		s.logger.Warnw("camera absent from selection record, defaulting",
			"camera", cameraName, "solution", DefaultSolution)
	}
	return s.applySolution(cameraName, solution)
}

// ReconcileAll reconciles every named camera.
func (s *Store) ReconcileAll(cameraNames []string) error {
	for _, name := range cameraNames {
		if err := s.Reconcile(name); err != nil {
			return err
		}
	}
	return nil
}

// applySolution copies the candidate over the active file when their content
// differs. Identical content (by hash, never by timestamp) is left untouched.
func (s *Store) applySolution(cameraName string, solution int) error {
	arts := s.layout(cameraName)
	candidate := arts.Candidates[solution]
	wantHash, err := fileHash(candidate)
	if err != nil {
		return errcode.Wrap(err, errcode.CalibrationConsistencyViolation,
			"selected extrinsic candidate is unreadable")
	}
	haveHash, err := fileHash(arts.Active)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errcode.Wrap(err, errcode.CalibrationConsistencyViolation,
			"active extrinsics record is unreadable")
	}
	if haveHash == wantHash {
		return nil
	}
	if haveHash != "" {
		s.logger.Warnw("active extrinsics do not match selected solution, correcting",
			"camera", cameraName, "solution", solution,
			"active_hash", haveHash, "selected_hash", wantHash)
	}
	if err := atomicCopy(candidate, arts.Active); err != nil {
		return errcode.Wrap(err, errcode.CalibrationConsistencyViolation,
			"failed to overwrite active extrinsics with selected solution")
	}
	return nil
}

// persist writes the record with an atomic replace so a crash mid-write
// cannot leave a corrupt selection on disk.
func (s *Store) persist(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data)
}

func fileHash(path string) (string, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.WithStack(err)
		}
		return "", errors.Wrapf(err, "error opening %s", path)
	}
	//nolint:errcheck
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "error hashing %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".selection-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func atomicCopy(src, dst string) error {
	//nolint:gosec
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return atomicWrite(dst, data)
}

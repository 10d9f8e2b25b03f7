package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/mocap/logging"
	"go.viam.com/mocap/selection"
)

// Result is what an external processing run hands back for one trial.
type Result struct {
	// Outputs are the artifact files written, recorded in the processing
	// report.
	Outputs []string
	// ScaledModelPath is set by static trials and cached in the session
	// metadata for later dynamic trials.
	ScaledModelPath string
	// VerticalOffsetM is only known once the solve completes; the trial's
	// settings record is rewritten with it.
	VerticalOffsetM float64
}

// Processor runs the external pipeline for one trial: pose detection,
// triangulation, augmentation, and the biomechanical solve. It is opaque to
// the orchestrator beyond success or failure.
type Processor interface {
	Process(ctx context.Context, trial *Trial, settings *Settings) (*Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, trial *Trial, settings *Settings) (*Result, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, trial *Trial, settings *Settings) (*Result, error) {
	return f(ctx, trial, settings)
}

// Session orchestrates trials against one session directory. Trials run
// strictly sequentially; the selection store is not designed for concurrent
// writers.
type Session struct {
	layout Layout
	meta   *Metadata
	store  *selection.Store
	clock  clock.Clock
	logger logging.Logger

	outputs map[Kind][]string
}

// New opens a session at root. If no metadata record exists yet, meta is
// persisted as the session metadata; otherwise the existing record wins and
// meta is ignored.
func New(root string, meta *Metadata, logger logging.Logger) (*Session, error) {
	return NewWithClock(root, meta, clock.New(), logger)
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(root string, meta *Metadata, c clock.Clock, logger logging.Logger) (*Session, error) {
	layout := Layout{Root: root}
	existing, err := LoadMetadata(layout.MetadataPath())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		meta = existing
	} else {
		if meta == nil {
			return nil, errors.New("session has no metadata record and none was provided")
		}
		if err := meta.Save(layout.MetadataPath()); err != nil {
			return nil, errors.Wrap(err, "error creating session metadata")
		}
		logger.Infow("created session metadata", "path", layout.MetadataPath())
	}
	store := selection.NewStoreWithClock(layout.SelectionPath(), layout.ExtrinsicArtifacts(), c, logger)
	return &Session{
		layout:  layout,
		meta:    meta,
		store:   store,
		clock:   c,
		logger:  logger,
		outputs: map[Kind][]string{},
	}, nil
}

// Layout returns the session's path layout.
func (s *Session) Layout() Layout { return s.layout }

// Metadata returns the session metadata record.
func (s *Session) Metadata() *Metadata { return s.meta }

// Selection returns the session's calibration selection store.
func (s *Session) Selection() *selection.Store { return s.store }

// Run drives one trial through its lifecycle. Before a non-calibration trial
// runs, the working extrinsics of every camera in the trial are reconciled
// against the persisted calibration selection. Prior outputs of the trial's
// kind are deleted first so re-running is idempotent with respect to its own
// outputs; raw input videos are never touched.
func (s *Session) Run(ctx context.Context, trial *Trial, settings *Settings, proc Processor) error {
	if trial.Kind != KindCalibration {
		if err := s.store.ReconcileAll(trial.Cameras); err != nil {
			return errors.Wrapf(err, "trial %s: selection reconciliation failed", trial.Name)
		}
	}
	if err := s.cleanOutputs(trial); err != nil {
		return errors.Wrapf(err, "trial %s: output cleanup failed", trial.Name)
	}
	if trial.Kind == KindDynamic && s.meta.ScaledModel == "" {
		s.logger.Warnw("no scaled model from a prior static trial, falling back to unscaled model",
			"trial", trial.Name)
	}

	if err := trial.start(s.clock.Now()); err != nil {
		return err
	}
	s.logger.Infow("trial state", "trial", trial.Name, "kind", trial.Kind, "state", trial.State())
	if err := settings.Save(s.layout.SettingsPath(trial.Name)); err != nil {
		return errors.Wrapf(err, "trial %s: error writing settings", trial.Name)
	}

	res, err := proc.Process(ctx, trial, settings)
	if err != nil {
		return s.failTrial(trial, err)
	}
	return s.succeedTrial(trial, settings, res)
}

func (s *Session) succeedTrial(trial *Trial, settings *Settings, res *Result) error {
	if trial.Kind == KindStatic && res.ScaledModelPath != "" {
		s.meta.ScaledModel = res.ScaledModelPath
		if err := s.meta.Save(s.layout.MetadataPath()); err != nil {
			return errors.Wrapf(err, "trial %s: error caching scaled model path", trial.Name)
		}
		s.logger.Infow("cached scaled model for dynamic trials",
			"trial", trial.Name, "path", res.ScaledModelPath)
	}
	settings.VerticalOffsetM = res.VerticalOffsetM
	if err := settings.Save(s.layout.SettingsPath(trial.Name)); err != nil {
		return errors.Wrapf(err, "trial %s: error rewriting settings", trial.Name)
	}
	s.outputs[trial.Kind] = append(s.outputs[trial.Kind], res.Outputs...)

	if err := trial.finish(s.clock.Now(), StateSucceeded); err != nil {
		return err
	}
	s.logger.Infow("trial state",
		"trial", trial.Name, "kind", trial.Kind, "state", trial.State(), "duration", trial.Duration())
	return nil
}

// failTrial salvages whatever intermediate artifacts the failed run already
// wrote into a manifest, then surfaces the original error. Salvage never
// masks the processing error; its own failures are attached alongside.
func (s *Session) failTrial(trial *Trial, procErr error) error {
	salvaged, salvageErr := s.salvage(trial)
	terminal := StateFailed
	if len(salvaged) > 0 {
		terminal = StateFailedPartial
	}
	if err := trial.finish(s.clock.Now(), terminal); err != nil {
		salvageErr = multierr.Combine(salvageErr, err)
	}
	s.logger.Errorw("trial state",
		"trial", trial.Name, "kind", trial.Kind, "state", trial.State(),
		"salvaged", len(salvaged), "error", procErr)
	return multierr.Append(errors.Wrapf(procErr, "trial %s failed", trial.Name), salvageErr)
}

// cleanOutputs deletes the prior output artifacts of the trial's kind. The
// path set is explicit per kind; nothing under a camera's InputMedia
// directory ever appears in it.
func (s *Session) cleanOutputs(trial *Trial) error {
	var paths []string
	switch trial.Kind {
	case KindCalibration:
		for _, cam := range trial.Cameras {
			arts := s.layout.ExtrinsicArtifacts()(cam)
			paths = append(paths, arts.Active, arts.Candidates[0], arts.Candidates[1],
				s.layout.IntrinsicsPath(cam))
		}
		paths = append(paths, s.layout.SelectionPath())
	case KindStatic:
		paths = append(paths, s.layout.MarkerDataPath(trial.Name),
			s.layout.DebugCloudPath(trial.Name), s.layout.ModelDir())
	case KindDynamic:
		paths = append(paths, s.layout.MarkerDataPath(trial.Name),
			s.layout.DebugCloudPath(trial.Name))
	}
	paths = append(paths, s.layout.SalvagePath(trial.Name))

	var errs error
	for _, path := range paths {
		err := os.RemoveAll(path)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "error removing %s", path))
			continue
		}
		s.logger.Debugw("removed stale trial output", "trial", trial.Name, "path", path)
	}
	return errs
}

// salvage writes a manifest of the trial's intermediate artifacts that exist
// on disk, so a human operator can recover expensive partial compute.
func (s *Session) salvage(trial *Trial) ([]string, error) {
	candidates := []string{
		s.layout.MarkerDataPath(trial.Name),
		s.layout.DebugCloudPath(trial.Name),
	}
	for _, cam := range trial.Cameras {
		arts := s.layout.ExtrinsicArtifacts()(cam)
		candidates = append(candidates,
			s.layout.IntrinsicsPath(cam), arts.Candidates[0], arts.Candidates[1], arts.Active)
	}

	var salvaged []string
	var errs error
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				errs = multierr.Append(errs, errors.Wrapf(err, "error checking %s", path))
			}
			continue
		}
		salvaged = append(salvaged, path)
	}
	if len(salvaged) == 0 {
		return nil, errs
	}
	manifest := &SalvageManifest{
		Trial:     trial.Name,
		Kind:      string(trial.Kind),
		Timestamp: s.clock.Now().UTC(),
		Artifacts: salvaged,
	}
	if err := writeYAML(s.layout.SalvagePath(trial.Name), manifest); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "error writing salvage manifest"))
	}
	return salvaged, errs
}

// WriteReport writes the post-session processing report listing every output
// produced, grouped by trial kind. Called once after the last trial succeeds.
func (s *Session) WriteReport() error {
	report := &Report{Session: filepath.Base(s.layout.Root), Outputs: map[string][]string{}}
	for kind, outs := range s.outputs {
		report.Outputs[string(kind)] = outs
	}
	return writeYAML(s.layout.ReportPath(), report)
}

// Report is the processing report record.
type Report struct {
	Session string              `yaml:"session"`
	Outputs map[string][]string `yaml:"outputs"`
}

// SalvageManifest records which artifacts survived a failed trial.
type SalvageManifest struct {
	Trial     string    `yaml:"trial"`
	Kind      string    `yaml:"kind"`
	Timestamp time.Time `yaml:"timestamp"`
	Artifacts []string  `yaml:"artifacts"`
}

package session

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/mocap/selection"
	"go.viam.com/mocap/triangulate"
)

// Special camera selection values for DiscoverCameras.
const (
	CamerasAll          = "all"
	CamerasAllAvailable = "all_available"
)

// Layout resolves every on-disk path of a session. Raw input videos live
// under each camera's input directory and are never touched by cleanup; all
// other artifacts are regenerated outputs.
type Layout struct {
	Root string
}

// MetadataPath is the session metadata record.
func (l Layout) MetadataPath() string {
	return filepath.Join(l.Root, "sessionMetadata.yaml")
}

// SelectionPath is the session-scoped calibration selection record.
func (l Layout) SelectionPath() string {
	return filepath.Join(l.Root, "calibrationSelections.json")
}

// VideosDir holds one subdirectory per camera.
func (l Layout) VideosDir() string {
	return filepath.Join(l.Root, "Videos")
}

// CameraDir is one camera's directory.
func (l Layout) CameraDir(cameraName string) string {
	return filepath.Join(l.VideosDir(), cameraName)
}

// RawVideoDir holds a camera's raw input video for one trial.
func (l Layout) RawVideoDir(cameraName, trialName string) string {
	return filepath.Join(l.CameraDir(cameraName), "InputMedia", trialName)
}

// IntrinsicsPath is a camera's persisted intrinsics record.
func (l Layout) IntrinsicsPath(cameraName string) string {
	return filepath.Join(l.CameraDir(cameraName), "intrinsics.json")
}

// ExtrinsicArtifacts adapts the layout to the selection store: the active
// extrinsics record plus the two candidate variants, per camera.
func (l Layout) ExtrinsicArtifacts() selection.Layout {
	return selection.DirLayout(l.VideosDir())
}

// SettingsPath is one trial's settings record.
func (l Layout) SettingsPath(trialName string) string {
	return filepath.Join(l.Root, "Settings_"+trialName+".yaml")
}

// ObservationsPath is one trial's merged 2D keypoint record, written by the
// external pose detector. It is an input to this core, never cleaned up.
func (l Layout) ObservationsPath(trialName string) string {
	return filepath.Join(l.Root, "PoseData", trialName+".json")
}

// MarkerDataDir holds reconstructed marker trajectories, one file per trial.
func (l Layout) MarkerDataDir() string {
	return filepath.Join(l.Root, "MarkerData")
}

// MarkerDataPath is one trial's reconstructed point cloud output.
func (l Layout) MarkerDataPath(trialName string) string {
	return filepath.Join(l.MarkerDataDir(), trialName+".json")
}

// DebugCloudPath is one trial's sampled debug point cloud output.
func (l Layout) DebugCloudPath(trialName string) string {
	return filepath.Join(l.MarkerDataDir(), trialName+"_debug.json")
}

// ModelDir holds the scaled biomechanical model produced by the static trial.
func (l Layout) ModelDir() string {
	return filepath.Join(l.Root, "Model")
}

// ReportPath is the post-session processing report.
func (l Layout) ReportPath() string {
	return filepath.Join(l.Root, "processingReport.yaml")
}

// SalvagePath is one trial's partial-result salvage manifest.
func (l Layout) SalvagePath(trialName string) string {
	return filepath.Join(l.Root, "salvage_"+trialName+".yaml")
}

// DiscoverCameras resolves a camera selection against the session directory.
// The selection is either CamerasAll (every camera directory must hold the
// trial's raw video), CamerasAllAvailable (only cameras that do are used), or
// an explicit name list (each must exist and hold the video). Fewer than the
// triangulation minimum is an error regardless of selection mode.
func (l Layout) DiscoverCameras(sel []string, trialName string) ([]string, error) {
	available, err := l.listCameraDirs()
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, errors.Errorf("no camera directories under %s", l.VideosDir())
	}

	var chosen []string
	switch {
	case len(sel) == 1 && sel[0] == CamerasAll:
		for _, name := range available {
			if !l.hasRawVideo(name, trialName) {
				return nil, errors.Errorf("camera %s has no raw video for trial %s", name, trialName)
			}
		}
		chosen = available
	case len(sel) == 1 && sel[0] == CamerasAllAvailable:
		for _, name := range available {
			if l.hasRawVideo(name, trialName) {
				chosen = append(chosen, name)
			}
		}
	default:
		byName := map[string]bool{}
		for _, name := range available {
			byName[name] = true
		}
		for _, name := range sel {
			if !byName[name] {
				return nil, errors.Errorf("selected camera %s has no directory under %s", name, l.VideosDir())
			}
			if !l.hasRawVideo(name, trialName) {
				return nil, errors.Errorf("selected camera %s has no raw video for trial %s", name, trialName)
			}
			chosen = append(chosen, name)
		}
	}

	if len(chosen) < triangulate.MinCameras {
		return nil, errors.Errorf(
			"trial %s has %d usable camera(s), need at least %d for triangulation",
			trialName, len(chosen), triangulate.MinCameras)
	}
	sort.Strings(chosen)
	return chosen, nil
}

func (l Layout) listCameraDirs() ([]string, error) {
	entries, err := os.ReadDir(l.VideosDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error listing camera directories")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (l Layout) hasRawVideo(cameraName, trialName string) bool {
	entries, err := os.ReadDir(l.RawVideoDir(cameraName, trialName))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return true
		}
	}
	return false
}

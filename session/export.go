package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/mocap/calib"
	"go.viam.com/mocap/camera"
	"go.viam.com/mocap/triangulate"
)

// Bundles assembles the triangulator's input for a trial: per camera, the
// persisted intrinsics paired with the active extrinsics. Callers must have
// reconciled the selection first (Run does this for non-calibration trials)
// so every bundle reflects the same session-wide solution choice.
func (s *Session) Bundles(cameraNames []string) (triangulate.BundleSet, error) {
	bundles := triangulate.BundleSet{}
	for _, name := range cameraNames {
		cam, err := camera.LoadCamera(s.layout.IntrinsicsPath(name))
		if err != nil {
			return nil, errors.Wrapf(err, "camera %s has no usable intrinsics record", name)
		}
		cam.Name = name
		ext, err := calib.LoadExtrinsic(s.layout.ExtrinsicArtifacts()(name).Active)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %s has no usable active extrinsics record", name)
		}
		bundles[name] = &triangulate.CameraBundle{Camera: cam, Extrinsic: ext}
	}
	if err := bundles.CheckValid(); err != nil {
		return nil, err
	}
	return bundles, nil
}

// ExportPointCloud writes a reconstructed point cloud as indented JSON under
// the session's marker data directory, for offline inspection of a trial's
// reconstruction. Returns the path written.
func (s *Session) ExportPointCloud(trialName string, pc *triangulate.PointCloud) (string, error) {
	path := s.layout.MarkerDataPath(trialName)
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "error encoding point cloud")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	//nolint:gosec
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "error writing point cloud")
	}
	return path, nil
}

// ExportDebugCloud writes every stride-th frame of the cloud next to the
// trial's marker data, a lightweight record for eyeballing the rotated
// reconstruction without loading the full trial. Returns the path written.
func (s *Session) ExportDebugCloud(trialName string, pc *triangulate.PointCloud, stride int) (string, error) {
	if stride < 1 {
		stride = 1
	}
	sampled := &triangulate.PointCloud{Landmarks: pc.Landmarks, FrameRate: pc.FrameRate / float64(stride)}
	for i := 0; i < len(pc.Frames); i += stride {
		sampled.Frames = append(sampled.Frames, pc.Frames[i])
	}
	path := s.layout.DebugCloudPath(trialName)
	data, err := json.MarshalIndent(sampled, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "error encoding debug point cloud")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	//nolint:gosec
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "error writing debug point cloud")
	}
	return path, nil
}

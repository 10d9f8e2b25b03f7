package triangulate

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// TrialObservations is the persisted 2D keypoint record for one trial: the
// external pose detector's per-camera output merged by frame and landmark.
// This is the consumed half of the triangulation boundary; the produced half
// is the camera BundleSet.
type TrialObservations struct {
	Landmarks []string                      `json:"landmarks"`
	FrameRate float64                       `json:"frame_rate"`
	Frames    []map[string][]PixelDetection `json:"frames"`
}

// PixelDetection is one camera's 2D detection of a landmark.
type PixelDetection struct {
	Camera     string  `json:"camera"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// LoadObservations reads a trial observation record.
func LoadObservations(path string) (*TrialObservations, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading trial observations")
	}
	obs := &TrialObservations{}
	if err := json.Unmarshal(data, obs); err != nil {
		return nil, errors.Wrap(err, "error parsing trial observations")
	}
	if err := obs.CheckValid(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CheckValid checks structural soundness: named landmarks, at least one
// frame, and no detection of an unnamed landmark.
func (t *TrialObservations) CheckValid() error {
	if len(t.Landmarks) == 0 {
		return errors.New("trial observations name no landmarks")
	}
	if len(t.Frames) == 0 {
		return errors.New("trial observations hold no frames")
	}
	known := make(map[string]bool, len(t.Landmarks))
	for _, name := range t.Landmarks {
		known[name] = true
	}
	for f, frame := range t.Frames {
		for name := range frame {
			if !known[name] {
				return errors.Errorf("frame %d observes unnamed landmark %q", f, name)
			}
		}
	}
	return nil
}

// FrameObservations converts the record into the triangulator's input form.
func (t *TrialObservations) FrameObservations() []FrameObservations {
	frames := make([]FrameObservations, len(t.Frames))
	for f, frame := range t.Frames {
		out := FrameObservations{}
		for name, dets := range frame {
			obs := make([]Observation, 0, len(dets))
			for _, d := range dets {
				obs = append(obs, Observation{
					CameraName: d.Camera,
					Pixel:      r2.Point{X: d.X, Y: d.Y},
					Confidence: d.Confidence,
				})
			}
			out[name] = obs
		}
		frames[f] = out
	}
	return frames
}

// Package video is the boundary to video decoding, which is an external
// collaborator of the pipeline. The calibration components consume grayscale
// frames at sampled indexes and never touch codecs or containers directly.
package video

import (
	"image"

	"github.com/pkg/errors"
)

// Rotation is the display rotation recorded in the video's metadata, in
// degrees clockwise. Phone footage shot in portrait is typically stored
// landscape with a 90 or 270 degree rotation flag.
type Rotation int

// Rotations that can appear in sensor metadata.
const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Swapped reports whether the rotation swaps the display width and height
// relative to the storage dimensions.
func (r Rotation) Swapped() bool {
	return r == Rotation90 || r == Rotation270
}

// Frame is one decoded grayscale frame.
type Frame struct {
	Index int
	Gray  *image.Gray
}

// FrameSource yields frames of a single camera's video.
type FrameSource interface {
	// Name identifies the source, typically the video path.
	Name() string
	// FrameCount returns the total number of frames.
	FrameCount() int
	// StorageSize returns the width and height as stored in the file.
	StorageSize() (int, int)
	// Rotation returns the display rotation metadata.
	Rotation() Rotation
	// Frame decodes the frame at the given index.
	Frame(idx int) (*Frame, error)
	// Close releases decoder resources.
	Close() error
}

// DisplaySize returns the post-rotation dimensions of src. These, not the
// storage dimensions, are what an intrinsic solve must use; feeding storage
// dimensions of rotated video swaps fx and fy.
func DisplaySize(src FrameSource) (int, int) {
	w, h := src.StorageSize()
	if src.Rotation().Swapped() {
		return h, w
	}
	return w, h
}

// SampleIndexes returns n frame indexes at even temporal stride over a video
// of total frames, first and last included.
func SampleIndexes(total, n int) ([]int, error) {
	if total <= 0 {
		return nil, errors.Errorf("video has no frames")
	}
	if n <= 0 {
		return nil, errors.Errorf("sample count must be positive, got %d", n)
	}
	if n >= total {
		idxs := make([]int, total)
		for i := range idxs {
			idxs[i] = i
		}
		return idxs, nil
	}
	if n == 1 {
		return []int{0}, nil
	}
	idxs := make([]int, n)
	step := float64(total-1) / float64(n-1)
	for i := range idxs {
		idxs[i] = int(float64(i) * step)
	}
	idxs[n-1] = total - 1
	return idxs, nil
}

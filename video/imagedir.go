package video

import (
	"image"
	"image/draw"
	// Frame directories hold JPEG or PNG files.
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageDirSource reads a directory of pre-extracted frame images, sorted by
// filename, as a FrameSource. This is the on-disk boundary with the external
// video decoder, which dumps one image per sampled frame; sidecar rotation
// metadata travels with the directory rather than inside a container.
type ImageDirSource struct {
	dir      string
	files    []string
	rotation Rotation

	width  int
	height int
}

// NewImageDirSource opens a frame directory. The storage dimensions come
// from decoding the first frame's header.
func NewImageDirSource(dir string, rotation Rotation) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading frame directory %s", dir)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("frame directory %s holds no images", dir)
	}
	sort.Strings(files)

	//nolint:gosec
	f, err := os.Open(files[0])
	if err != nil {
		return nil, errors.Wrapf(err, "error opening first frame %s", files[0])
	}
	//nolint:errcheck
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding first frame %s", files[0])
	}
	return &ImageDirSource{
		dir:      dir,
		files:    files,
		rotation: rotation,
		width:    cfg.Width,
		height:   cfg.Height,
	}, nil
}

// Name implements FrameSource.
func (s *ImageDirSource) Name() string { return s.dir }

// FrameCount implements FrameSource.
func (s *ImageDirSource) FrameCount() int { return len(s.files) }

// StorageSize implements FrameSource.
func (s *ImageDirSource) StorageSize() (int, int) { return s.width, s.height }

// Rotation implements FrameSource.
func (s *ImageDirSource) Rotation() Rotation { return s.rotation }

// Frame implements FrameSource.
func (s *ImageDirSource) Frame(idx int) (*Frame, error) {
	if idx < 0 || idx >= len(s.files) {
		return nil, errors.Errorf("frame index %d out of range [0, %d)", idx, len(s.files))
	}
	//nolint:gosec
	f, err := os.Open(s.files[idx])
	if err != nil {
		return nil, errors.Wrapf(err, "error opening frame %s", s.files[idx])
	}
	//nolint:errcheck
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding frame %s", s.files[idx])
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		gray = image.NewGray(img.Bounds())
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	return &Frame{Index: idx, Gray: gray}, nil
}

// Close implements FrameSource.
func (s *ImageDirSource) Close() error { return nil }

// ParseRotation reads a rotation sidecar value like "90" into a Rotation.
func ParseRotation(deg int) (Rotation, error) {
	switch Rotation(deg) {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return Rotation(deg), nil
	default:
		return 0, errors.Errorf("unsupported rotation %d, want 0/90/180/270", deg)
	}
}

package video

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func writeTestFrame(t *testing.T, dir, name string, w, h int, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	f, err := os.Create(filepath.Join(dir, name))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, img), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
}

func TestImageDirSource(t *testing.T) {
	dir := t.TempDir()
	writeTestFrame(t, dir, "frame_000.png", 64, 48, 10)
	writeTestFrame(t, dir, "frame_001.png", 64, 48, 20)
	writeTestFrame(t, dir, "frame_002.png", 64, 48, 30)
	// non-image files are ignored
	test.That(t, os.WriteFile(filepath.Join(dir, "rotation.txt"), []byte("90"), 0o644), test.ShouldBeNil)

	src, err := NewImageDirSource(dir, Rotation90)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, src.Close(), test.ShouldBeNil)
	}()

	test.That(t, src.FrameCount(), test.ShouldEqual, 3)
	w, h := src.StorageSize()
	test.That(t, w, test.ShouldEqual, 64)
	test.That(t, h, test.ShouldEqual, 48)
	test.That(t, src.Rotation(), test.ShouldEqual, Rotation90)

	frame, err := src.Frame(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Index, test.ShouldEqual, 1)
	test.That(t, frame.Gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(20))

	_, err = src.Frame(3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageDirSourceEmpty(t *testing.T) {
	_, err := NewImageDirSource(t.TempDir(), Rotation0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no images")
}

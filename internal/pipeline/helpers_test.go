package pipeline

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"testing"

	"golang.org/x/image/tiff"
)

func buildTestImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func buildTestTIFF(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, buildTestImage(w, h), nil); err != nil {
		t.Fatalf("encode source tiff: %v", err)
	}
	return buf.Bytes()
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, buildTestImage(w, h)); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func imageSize(t testing.TB, path string) (int, int, string) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	return cfg.Width, cfg.Height, format
}

func imageSizeFromBytes(t testing.TB, data []byte) (int, int, string) {
	t.Helper()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode image bytes: %v", err)
	}
	return cfg.Width, cfg.Height, format
}

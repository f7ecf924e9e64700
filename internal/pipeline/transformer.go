package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
)

// Params carries the transform settings for a single file.
type Params struct {
	Format string
	Filter string
	Scale  *float64
	Crop   *domain.Crop
}

type Output struct {
	Path   string
	Format string
	Width  int
	Height int
}

// Transformer reads sourcePath, applies crop then scale, and writes the
// result to destPath in the requested format.
type Transformer interface {
	Transform(ctx context.Context, sourcePath, destPath string, params Params) (Output, error)
}

// resolveFilter validates a filter name against the supported set.
func resolveFilter(name string) (string, error) {
	normalized, ok := domain.NormalizeFilter(name)
	if !ok {
		return "", fmt.Errorf("%w: unsupported resample filter %q", domain.ErrConfiguration, name)
	}
	return normalized, nil
}

func normalizeOutputFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	default:
		return f
	}
}

func cropRect(bounds image.Rectangle, crop domain.Crop) (image.Rectangle, error) {
	if err := crop.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	rect := image.Rect(crop.X0, crop.Y0, crop.X1, crop.Y1).Add(bounds.Min)
	if !rect.In(bounds) {
		return image.Rectangle{}, fmt.Errorf("%w: crop box %v outside image bounds %dx%d", domain.ErrDecode, crop.Values(), bounds.Dx(), bounds.Dy())
	}
	return rect, nil
}

func scaledSize(width, height int, scale float64) (int, int) {
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(1, w), max(1, h)
}

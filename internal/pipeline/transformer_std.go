package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imageq/internal/domain"
)

var imagingFilters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"box":        imaging.Box,
	"bilinear":   imaging.Linear,
	"linear":     imaging.Linear,
	"hamming":    imaging.Hamming,
	"bicubic":    imaging.CatmullRom,
	"catmullrom": imaging.CatmullRom,
	"mitchell":   imaging.MitchellNetravali,
	"antialias":  imaging.Lanczos,
	"lanczos":    imaging.Lanczos,
}

var imagingFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
}

const jpegQuality = 90

type imagingTransformer struct {
	fallback DecodeFallback
}

func (t imagingTransformer) Transform(ctx context.Context, sourcePath, destPath string, params Params) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	format := normalizeOutputFormat(params.Format)
	encoding, ok := imagingFormats[format]
	if !ok {
		return Output{}, fmt.Errorf("%w: unsupported output format %q", domain.ErrEncode, params.Format)
	}

	var filter imaging.ResampleFilter
	if params.Scale != nil {
		name, err := resolveFilter(params.Filter)
		if err != nil {
			return Output{}, err
		}
		filter = imagingFilters[name]
	}

	src, err := t.open(ctx, sourcePath)
	if err != nil {
		return Output{}, err
	}

	if params.Crop != nil {
		rect, err := cropRect(src.Bounds(), *params.Crop)
		if err != nil {
			return Output{}, err
		}
		src = imaging.Crop(src, rect)
	}

	if params.Scale != nil {
		b := src.Bounds()
		w, h := scaledSize(b.Dx(), b.Dy(), *params.Scale)
		src = imaging.Resize(src, w, h, filter)
	}

	if err := writeImage(destPath, src, encoding); err != nil {
		return Output{}, err
	}

	b := src.Bounds()
	return Output{
		Path:   destPath,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// open decodes sourcePath, routing through the fallback when the primary
// decoder rejects the file.
func (t imagingTransformer) open(ctx context.Context, sourcePath string) (image.Image, error) {
	img, err := imaging.Open(sourcePath)
	if err == nil {
		return img, nil
	}
	if errors.Is(err, os.ErrNotExist) || t.fallback == nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrDecode, sourcePath, err)
	}

	converted, cleanup, fbErr := t.fallback.Convert(ctx, sourcePath)
	defer cleanup()
	if fbErr != nil {
		return nil, fmt.Errorf("%w: open %s: %v (fallback: %v)", domain.ErrDecode, sourcePath, err, fbErr)
	}

	img, err = imaging.Open(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: open converted %s: %v", domain.ErrDecode, sourcePath, err)
	}
	return img, nil
}

func writeImage(destPath string, img image.Image, format imaging.Format) (err error) {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrEncode, destPath, err)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("%w: close %s: %v", domain.ErrEncode, destPath, closeErr)
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrEncode, destPath, err)
	}
	return nil
}

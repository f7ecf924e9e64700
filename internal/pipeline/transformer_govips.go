//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imageq/internal/domain"
)

var vipsKernels = map[string]vips.Kernel{
	"nearest":    vips.KernelNearest,
	"box":        vips.KernelLinear,
	"bilinear":   vips.KernelLinear,
	"linear":     vips.KernelLinear,
	"hamming":    vips.KernelLanczos2,
	"bicubic":    vips.KernelCubic,
	"catmullrom": vips.KernelCubic,
	"mitchell":   vips.KernelMitchell,
	"antialias":  vips.KernelLanczos3,
	"lanczos":    vips.KernelLanczos3,
}

type govipsTransformer struct {
	fallback DecodeFallback
}

func (t govipsTransformer) Transform(ctx context.Context, sourcePath, destPath string, params Params) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	format := normalizeOutputFormat(params.Format)
	switch format {
	case "jpeg", "png", "tiff", "gif":
	default:
		return Output{}, fmt.Errorf("%w: unsupported output format %q", domain.ErrEncode, params.Format)
	}

	var kernel vips.Kernel
	if params.Scale != nil {
		name, err := resolveFilter(params.Filter)
		if err != nil {
			return Output{}, err
		}
		kernel = vipsKernels[name]
	}

	img, err := t.open(ctx, sourcePath)
	if err != nil {
		return Output{}, err
	}
	defer img.Close()

	if params.Crop != nil {
		bounds := imageBounds(img.Width(), img.Height())
		if _, err := cropRect(bounds, *params.Crop); err != nil {
			return Output{}, err
		}
		c := params.Crop
		if err := img.ExtractArea(c.X0, c.Y0, c.Width(), c.Height()); err != nil {
			return Output{}, fmt.Errorf("%w: crop %s: %v", domain.ErrDecode, sourcePath, err)
		}
	}

	if params.Scale != nil {
		scale := *params.Scale
		if err := img.ResizeWithVScale(scale, scale, kernel); err != nil {
			return Output{}, fmt.Errorf("%w: resize %s: %v", domain.ErrDecode, sourcePath, err)
		}
	}

	data, err := exportGovipsImage(img, format)
	if err != nil {
		return Output{}, err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		_ = os.Remove(destPath)
		return Output{}, fmt.Errorf("%w: write %s: %v", domain.ErrEncode, destPath, err)
	}

	return Output{
		Path:   destPath,
		Format: format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func (t govipsTransformer) open(ctx context.Context, sourcePath string) (*vips.ImageRef, error) {
	img, err := vips.NewImageFromFile(sourcePath)
	if err == nil {
		return img, nil
	}
	if t.fallback == nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrDecode, sourcePath, err)
	}

	converted, cleanup, fbErr := t.fallback.Convert(ctx, sourcePath)
	defer cleanup()
	if fbErr != nil {
		return nil, fmt.Errorf("%w: open %s: %v (fallback: %v)", domain.ErrDecode, sourcePath, err, fbErr)
	}

	img, err = vips.NewImageFromFile(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: open converted %s: %v", domain.ErrDecode, sourcePath, err)
	}
	return img, nil
}

func exportGovipsImage(img *vips.ImageRef, format string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = jpegQuality
		data, _, err = img.ExportJpeg(params)
	case "png":
		data, _, err = img.ExportPng(vips.NewPngExportParams())
	case "tiff":
		data, _, err = img.ExportTiff(vips.NewTiffExportParams())
	case "gif":
		data, _, err = img.ExportGIF(vips.NewGifExportParams())
	default:
		return nil, fmt.Errorf("%w: unsupported output format: %s", domain.ErrEncode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrEncode, format, err)
	}
	return data, nil
}

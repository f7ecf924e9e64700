package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
)

// DecodeFallback produces an 8-bit-per-channel copy of an image the primary
// decoder could not read. cleanup is never nil and must always be called.
type DecodeFallback interface {
	Convert(ctx context.Context, sourcePath string) (path string, cleanup func(), err error)
}

// MagickFallback inspects the bit depth with ImageMagick identify and, when
// it exceeds MaxDepth, converts the file with convert into a temporary TIFF.
type MagickFallback struct {
	IdentifyBin string
	ConvertBin  string
	TempDir     string
	MaxDepth    int
}

func (f MagickFallback) Convert(ctx context.Context, sourcePath string) (string, func(), error) {
	noop := func() {}

	depth, err := f.Depth(ctx, sourcePath)
	if err != nil {
		return "", noop, err
	}
	maxDepth := f.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 8
	}
	if depth <= maxDepth {
		return "", noop, fmt.Errorf("%w: %s reports bit depth %d, not a bit-depth problem", domain.ErrDecode, sourcePath, depth)
	}

	tmp, err := os.CreateTemp(f.TempDir, "imageq-8bit-*.tif")
	if err != nil {
		return "", noop, fmt.Errorf("create fallback temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(tmpPath) }

	cmd := exec.CommandContext(ctx, binaryOr(f.ConvertBin, "convert"), sourcePath, "-depth", "8", tmpPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", cleanup, fmt.Errorf("%w: convert %s to 8-bit: %v: %s", domain.ErrDecode, sourcePath, err, strings.TrimSpace(string(output)))
	}
	return tmpPath, cleanup, nil
}

// Depth returns the bit depth reported for the first frame of sourcePath.
func (f MagickFallback) Depth(ctx context.Context, sourcePath string) (int, error) {
	cmd := exec.CommandContext(ctx, binaryOr(f.IdentifyBin, "identify"), "-format", `%z\n`, sourcePath)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: identify %s: %v", domain.ErrDecode, sourcePath, err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		depth, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("%w: identify %s: unexpected depth %q", domain.ErrDecode, sourcePath, line)
		}
		return depth, nil
	}
	return 0, fmt.Errorf("%w: identify %s: no depth reported", domain.ErrDecode, sourcePath)
}

func binaryOr(binary, fallback string) string {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return fallback
	}
	return binary
}

package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultFileFormat is used when a single-file request names no format.
const DefaultFileFormat = "TIFF"

// FileRequest transforms one image already on the worker's filesystem.
// InPath is resolved under the worker input root; the output is written to
// OutPath inside the task's staging directory.
type FileRequest struct {
	InPath  string   `json:"in_path"`
	OutPath string   `json:"out_path"`
	Format  string   `json:"format,omitempty"`
	Filter  string   `json:"filter,omitempty"`
	Scale   *float64 `json:"scale,omitempty"`
	Crop    *Crop    `json:"crop,omitempty"`
}

// FileResult describes the derivative produced for a FileRequest. LocalRef
// points at the task directory, served or on disk.
type FileResult struct {
	TaskID   string `json:"task_id"`
	Tag      string `json:"tag"`
	LocalRef string `json:"local_ref"`
	Path     string `json:"path"`
	Format   string `json:"format"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

func (r FileRequest) Normalized() FileRequest {
	out := r
	out.InPath = strings.TrimSpace(r.InPath)
	out.OutPath = strings.TrimSpace(r.OutPath)
	out.Format = strings.TrimSpace(r.Format)
	if out.Format == "" {
		out.Format = DefaultFileFormat
	}
	out.Filter, _ = NormalizeFilter(r.Filter)
	return out
}

func (r FileRequest) Validate() error {
	if strings.TrimSpace(r.InPath) == "" {
		return fmt.Errorf("%w: in_path is required", ErrConfiguration)
	}
	out := strings.TrimSpace(r.OutPath)
	if out == "" {
		return fmt.Errorf("%w: out_path is required", ErrConfiguration)
	}
	if filepath.IsAbs(out) || !filepath.IsLocal(out) {
		return fmt.Errorf("%w: out_path must be a relative path inside the task directory: %q", ErrConfiguration, r.OutPath)
	}
	format := r.Format
	if strings.TrimSpace(format) == "" {
		format = DefaultFileFormat
	}
	return validateTransform(format, r.Filter, r.Scale, r.Crop)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/naming"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type FileTaskConfig struct {
	// InputRoot anchors relative and absolute input paths. Empty means
	// paths are used as given.
	InputRoot     string
	StagingRoot   string
	PublicBaseURL string
}

// FileTask transforms a single local image into its own task directory.
type FileTask struct {
	logger      *log.Logger
	cfg         FileTaskConfig
	transformer Transformer
	tracer      trace.Tracer
}

func NewFileTask(logger *log.Logger, cfg FileTaskConfig, fallback DecodeFallback) (*FileTask, error) {
	if strings.TrimSpace(cfg.StagingRoot) == "" {
		return nil, errors.New("staging root is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &FileTask{
		logger:      logger,
		cfg:         cfg,
		transformer: newTransformer(fallback),
		tracer:      otel.Tracer("imageq/pipeline"),
	}, nil
}

// Run writes the derivative to <StagingRoot>/<taskID>/<OutPath>. The task
// directory is removed again when the transform fails.
func (f *FileTask) Run(ctx context.Context, taskID string, req domain.FileRequest) (domain.FileResult, error) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return domain.FileResult{}, err
	}
	if err := checkTaskID(taskID); err != nil {
		return domain.FileResult{}, err
	}
	inPath, err := f.resolveInput(req.InPath)
	if err != nil {
		return domain.FileResult{}, err
	}

	ctx, span := f.tracer.Start(ctx, "pipeline.file_task", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("file.in", req.InPath),
		attribute.String("file.format", req.Format),
	))
	defer span.End()

	taskRoot := filepath.Join(f.cfg.StagingRoot, taskID)
	if err := stageTask(f.cfg.StagingRoot, taskRoot); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "staging failed")
		return domain.FileResult{}, err
	}
	outPath := filepath.Join(taskRoot, req.OutPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		f.cleanup(taskRoot)
		return domain.FileResult{}, fmt.Errorf("%w: create output directory: %v", domain.ErrFatalSetup, err)
	}

	output, err := f.transformer.Transform(ctx, inPath, outPath, Params{
		Format: req.Format,
		Filter: req.Filter,
		Scale:  req.Scale,
		Crop:   req.Crop,
	})
	if err != nil {
		f.cleanup(taskRoot)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		f.logger.Printf("file task failed task_id=%s in=%s err=%v", taskID, req.InPath, err)
		return domain.FileResult{}, fmt.Errorf("transform %s: %w", req.InPath, err)
	}

	result := domain.FileResult{
		TaskID:   taskID,
		Tag:      naming.TagFor(req.Format, req.Filter, req.Scale, req.Crop),
		LocalRef: taskRef(f.cfg.PublicBaseURL, taskID, taskRoot),
		Path:     outPath,
		Format:   output.Format,
		Width:    output.Width,
		Height:   output.Height,
	}
	span.SetStatus(codes.Ok, "transformed")
	f.logger.Printf("file task finished task_id=%s out=%s size=%dx%d", taskID, req.OutPath, output.Width, output.Height)
	return result, nil
}

func (f *FileTask) resolveInput(p string) (string, error) {
	root := strings.TrimSpace(f.cfg.InputRoot)
	if root == "" {
		return filepath.Clean(p), nil
	}
	resolved := filepath.Join(root, p)
	rel, err := filepath.Rel(root, resolved)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: in_path %q escapes the input root", domain.ErrConfiguration, p)
	}
	return resolved, nil
}

func (f *FileTask) cleanup(taskRoot string) {
	if err := os.RemoveAll(taskRoot); err != nil {
		f.logger.Printf("staging cleanup failed path=%s err=%v", taskRoot, err)
	}
}

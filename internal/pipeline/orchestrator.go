package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/naming"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObjectStore is the storage collaborator used to fetch sources and
// publish derivatives.
type ObjectStore interface {
	Lister
	Download(ctx context.Context, bucket, key, localPath string) error
	Upload(ctx context.Context, localPath, bucket, key string) error
}

// Catalog is the narrow view of the metadata catalog the orchestrator needs.
type Catalog interface {
	Lookup(ctx context.Context, bag string) (domain.CatalogRecord, bool, error)
	Upsert(ctx context.Context, bag string, derivatives map[string][]domain.ManifestEntry, origin domain.Origin) error
}

type OrchestratorConfig struct {
	// StagingRoot holds one directory per task.
	StagingRoot string
	// PublicBaseURL, when set, is where StagingRoot is served from.
	PublicBaseURL string

	SourceBucket string
	SourcePrefix string
	DestBucket   string
	DestPrefix   string

	Department  string
	Project     string
	NASRoot     string
	NorFileRoot string
}

// Orchestrator runs derivative generation for a list of bags. A run is
// sequential and owns <StagingRoot>/<taskID> for its lifetime.
type Orchestrator struct {
	logger      *log.Logger
	cfg         OrchestratorConfig
	store       ObjectStore
	catalog     Catalog
	transformer Transformer
	tracer      trace.Tracer
}

func NewOrchestrator(logger *log.Logger, cfg OrchestratorConfig, store ObjectStore, catalog Catalog, fallback DecodeFallback) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.StagingRoot) == "" {
		return nil, errors.New("staging root is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags|log.Lmsgprefix)
	}

	return &Orchestrator{
		logger:      logger,
		cfg:         cfg,
		store:       store,
		catalog:     catalog,
		transformer: newTransformer(fallback),
		tracer:      otel.Tracer("imageq/pipeline"),
	}, nil
}

type sourceLocation struct {
	bucket string
	prefix string
}

// Run generates derivatives for every bag in req. File and bag failures are
// recorded in the result; only setup failures and cancellation return an
// error.
func (o *Orchestrator) Run(ctx context.Context, taskID string, req domain.DerivativeRequest) (domain.TaskResult, error) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return domain.TaskResult{}, err
	}
	if err := checkTaskID(taskID); err != nil {
		return domain.TaskResult{}, err
	}
	if (req.UseCatalog || req.SourceStyle == domain.SourceStyleCatalog) && o.catalog == nil {
		return domain.TaskResult{}, fmt.Errorf("%w: catalog requested but no catalog is configured", domain.ErrConfiguration)
	}
	if req.Upload && strings.TrimSpace(o.cfg.DestBucket) == "" {
		return domain.TaskResult{}, fmt.Errorf("%w: upload requested but no destination bucket is configured", domain.ErrConfiguration)
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("task.bags", len(req.Bags)),
	))
	defer span.End()

	tag := naming.TagForRequest(req)
	taskRoot := filepath.Join(o.cfg.StagingRoot, taskID)
	sourceRoot := filepath.Join(taskRoot, "source")
	derivativeRoot := filepath.Join(taskRoot, "derivative")

	if err := stageTask(o.cfg.StagingRoot, taskRoot, sourceRoot, derivativeRoot); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "staging failed")
		return domain.TaskResult{}, err
	}
	defer o.removeAll(sourceRoot, "task_id="+taskID)

	result := domain.TaskResult{
		TaskID:   taskID,
		Tag:      tag,
		Bags:     req.Bags,
		LocalRef: taskRef(o.cfg.PublicBaseURL, taskID, taskRoot),
		Results:  make([]domain.BagResult, 0, len(req.Bags)),
	}
	if req.Upload {
		result.DestBucket = o.cfg.DestBucket
		result.DestPrefix = o.cfg.DestPrefix
	}

	o.logger.Printf("task started task_id=%s bags=%d tag=%s upload=%t catalog=%t source_style=%s",
		taskID, len(req.Bags), tag, req.Upload, req.UseCatalog, req.SourceStyle)

	for _, bag := range req.Bags {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return domain.TaskResult{}, fmt.Errorf("task %s cancelled: %w", taskID, err)
		}
		result.Results = append(result.Results, o.runBag(ctx, taskID, bag, tag, req, sourceRoot, derivativeRoot))
	}

	if result.Complete() {
		span.SetStatus(codes.Ok, "complete")
	} else {
		span.SetStatus(codes.Error, "incomplete")
	}
	o.logger.Printf("task finished task_id=%s tag=%s complete=%t", taskID, tag, result.Complete())
	return result, nil
}

func checkTaskID(taskID string) error {
	if strings.TrimSpace(taskID) == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return fmt.Errorf("%w: invalid task id %q", domain.ErrConfiguration, taskID)
	}
	return nil
}

// stageTask creates the task directory tree under stagingRoot. The task
// directory itself must not already exist.
func stageTask(stagingRoot, taskRoot string, dirs ...string) error {
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return fmt.Errorf("%w: create staging root: %v", domain.ErrFatalSetup, err)
	}
	if err := os.Mkdir(taskRoot, 0o755); err != nil {
		return fmt.Errorf("%w: create task directory: %v", domain.ErrFatalSetup, err)
	}
	for _, dir := range dirs {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", domain.ErrFatalSetup, dir, err)
		}
	}
	return nil
}

func (o *Orchestrator) runBag(ctx context.Context, taskID, bag, tag string, req domain.DerivativeRequest, sourceRoot, derivativeRoot string) domain.BagResult {
	ctx, span := o.tracer.Start(ctx, "pipeline.bag", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("bag", bag),
	))
	defer span.End()

	out := domain.BagResult{Bag: bag, Entries: []domain.ManifestEntry{}}
	fail := func(err error) domain.BagResult {
		out.Error = err.Error()
		out.Status = bagStatus(out)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bag failed")
		o.logger.Printf("bag failed task_id=%s bag=%s err=%v", taskID, bag, err)
		return out
	}

	bagSource := filepath.Join(sourceRoot, bag)
	bagDest := filepath.Join(derivativeRoot, bag, tag)
	if err := os.MkdirAll(bagSource, 0o755); err != nil {
		return fail(fmt.Errorf("create bag source staging: %w", err))
	}
	defer o.removeAll(bagSource, "task_id="+taskID+" bag="+bag)
	if err := os.MkdirAll(bagDest, 0o755); err != nil {
		return fail(fmt.Errorf("create bag derivative staging: %w", err))
	}

	loc, err := o.locate(ctx, bag, req.SourceStyle)
	if err != nil {
		return fail(err)
	}

	for src, err := range EnumerateSources(ctx, o.store, loc.bucket, bag, loc.prefix) {
		if err != nil {
			out.Error = fmt.Errorf("%w: %v", domain.ErrTransfer, err).Error()
			break
		}
		if err := ctx.Err(); err != nil {
			out.Error = err.Error()
			break
		}
		out.Entries = append(out.Entries, o.processFile(ctx, taskID, src, loc.bucket, tag, req, bagSource, bagDest))
	}
	out.Status = bagStatus(out)

	if req.UseCatalog && out.Succeeded() > 0 {
		if err := o.publish(ctx, bag, loc, out.Entries); err != nil {
			out.CatalogError = err.Error()
			span.RecordError(err)
			o.logger.Printf("catalog publish failed task_id=%s bag=%s err=%v", taskID, bag, err)
		}
	}

	span.SetAttributes(
		attribute.String("bag.status", out.Status),
		attribute.Int("bag.files", len(out.Entries)),
		attribute.Int("bag.succeeded", out.Succeeded()),
	)
	o.logger.Printf("bag finished task_id=%s bag=%s status=%s files=%d succeeded=%d",
		taskID, bag, out.Status, len(out.Entries), out.Succeeded())
	return out
}

// processFile downloads, transforms and optionally uploads a single source.
// Failures are recorded on the returned entry.
func (o *Orchestrator) processFile(ctx context.Context, taskID string, src domain.SourceObject, bucket, tag string, req domain.DerivativeRequest, bagSource, bagDest string) domain.ManifestEntry {
	ctx, span := o.tracer.Start(ctx, "pipeline.file", trace.WithAttributes(
		attribute.String("bag", src.Bag),
		attribute.String("source.key", src.Key),
	))
	defer span.End()

	filename := naming.DerivativeFilename(src.Stem, req.Format)
	entry := domain.ManifestEntry{
		SourceKey: src.Key,
		Filename:  filename,
		Format:    req.Format,
		Scale:     req.Scale,
		Crop:      req.Crop,
	}
	if req.Scale != nil {
		entry.Filter = req.Filter
	}
	fail := func(err error) domain.ManifestEntry {
		entry.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "file failed")
		o.logger.Printf("file failed task_id=%s bag=%s key=%s err=%v", taskID, src.Bag, src.Key, err)
		return entry
	}

	localSource := filepath.Join(bagSource, path.Base(src.Key))
	defer o.removeFile(localSource)

	if err := o.store.Download(ctx, bucket, src.Key, localSource); err != nil {
		return fail(fmt.Errorf("%w: download %s: %v", domain.ErrTransfer, src.Key, err))
	}

	localDest := filepath.Join(bagDest, filename)
	output, err := o.transformer.Transform(ctx, localSource, localDest, Params{
		Format: req.Format,
		Filter: req.Filter,
		Scale:  req.Scale,
		Crop:   req.Crop,
	})
	if err != nil {
		return fail(fmt.Errorf("transform %s: %w", src.Key, err))
	}
	o.removeFile(localSource)

	entry.LocalPath = localDest
	entry.Width = output.Width
	entry.Height = output.Height

	if req.Upload {
		key := naming.DerivativeKey(o.cfg.DestPrefix, src.Bag, tag, filename)
		if err := o.store.Upload(ctx, localDest, o.cfg.DestBucket, key); err != nil {
			return fail(fmt.Errorf("%w: upload %s: %v", domain.ErrTransfer, key, err))
		}
		entry.RemoteKey = key
	}

	return entry
}

// locate resolves where a bag's sources live. The catalog style reads the
// S3 location from the bag's catalog record.
func (o *Orchestrator) locate(ctx context.Context, bag, style string) (sourceLocation, error) {
	direct := sourceLocation{
		bucket: o.cfg.SourceBucket,
		prefix: SourcePrefix(o.cfg.SourcePrefix, bag),
	}
	if style != domain.SourceStyleCatalog {
		return direct, nil
	}

	record, ok, err := o.catalog.Lookup(ctx, bag)
	if err != nil {
		return sourceLocation{}, fmt.Errorf("%w: lookup %s: %v", domain.ErrCatalog, bag, err)
	}
	if !ok {
		return sourceLocation{}, fmt.Errorf("%w: no catalog record for bag %s", domain.ErrCatalog, bag)
	}
	s3 := record.Locations.S3
	if !s3.Exists {
		return sourceLocation{}, fmt.Errorf("%w: bag %s has no object storage location", domain.ErrCatalog, bag)
	}

	loc := direct
	if s3.Bucket != "" {
		loc.bucket = s3.Bucket
	}
	if s3.Key != "" {
		loc.prefix = path.Join(strings.Trim(s3.Key, "/"), "data") + "/"
	}
	return loc, nil
}

func (o *Orchestrator) publish(ctx context.Context, bag string, loc sourceLocation, entries []domain.ManifestEntry) error {
	derivatives := make(map[string][]domain.ManifestEntry)
	for _, entry := range entries {
		if entry.Failed() {
			continue
		}
		stem := strings.TrimSuffix(entry.Filename, path.Ext(entry.Filename))
		derivatives[stem] = append(derivatives[stem], entry)
	}

	origin := domain.Origin{
		Department: o.cfg.Department,
		Project:    o.cfg.Project,
		Locations: domain.Locations{
			S3: domain.S3Location{
				Exists: true,
				Bucket: loc.bucket,
				Key:    strings.TrimSuffix(strings.TrimSuffix(loc.prefix, "/"), "/data"),
			},
			NAS:     pathLocation(o.cfg.NASRoot, bag),
			NorFile: pathLocation(o.cfg.NorFileRoot, bag),
		},
	}
	return o.catalog.Upsert(ctx, bag, derivatives, origin)
}

// taskRef is the public URL of a task directory, or its local path when no
// base URL is configured.
func taskRef(publicBaseURL, taskID, taskRoot string) string {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return taskRoot
	}
	return base + "/" + taskID
}

func (o *Orchestrator) removeAll(dir, scope string) {
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Printf("staging cleanup failed %s path=%s err=%v", scope, dir, err)
	}
}

func (o *Orchestrator) removeFile(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Printf("staging file cleanup failed path=%s err=%v", p, err)
	}
}

func pathLocation(root, bag string) domain.PathLocation {
	root = strings.TrimSpace(root)
	if root == "" {
		return domain.PathLocation{}
	}
	return domain.PathLocation{Exists: true, Location: filepath.Join(root, bag)}
}

func bagStatus(b domain.BagResult) string {
	succeeded := b.Succeeded()
	switch {
	case succeeded == 0 && (b.Error != "" || len(b.Entries) > 0):
		return domain.BagStatusFailed
	case len(b.Entries) == 0:
		return domain.BagStatusEmpty
	case succeeded < len(b.Entries) || b.Error != "":
		return domain.BagStatusPartial
	default:
		return domain.BagStatusComplete
	}
}

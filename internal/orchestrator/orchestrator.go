// Package orchestrator wires a conversion request to a job, launches
// its pipeline asynchronously, and exposes the job lifecycle (convert,
// download, cleanup, listing) to HTTP handlers.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/observability"
	"github.com/apresai/audioconv/internal/pipeline"
	"github.com/apresai/audioconv/internal/progress"
	"github.com/apresai/audioconv/internal/storage"
	"github.com/apresai/audioconv/internal/transcoder"
)

var qualityPattern = regexp.MustCompile(`(?i)^\d+k?$`)

// defaultSupportedFormats is the out-of-the-box format allowlist; a
// deployment can widen it via Config.SupportedFormats.
var defaultSupportedFormats = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"flac": true,
	"ogg":  true,
	"aac":  true,
	"m4a":  true,
}

// Config configures an Orchestrator.
type Config struct {
	DefaultBucket    string
	SupportedFormats map[string]bool
	TempDir          string
}

// blobStore is the narrow slice of storage.Gateway the orchestrator
// depends on, letting tests exercise Convert/ResolveDownload against a
// fake without a real S3 client.
type blobStore interface {
	Head(ctx context.Context, ref storage.Ref) (*storage.HeadResult, error)
	Get(ctx context.Context, ref storage.Ref) (io.ReadCloser, error)
	Presign(ctx context.Context, ref storage.Ref, opts storage.PresignOptions) (string, error)
	List(ctx context.Context, bucket, prefix string, limit int) ([]string, error)
}

// jobStore is the narrow slice of jobstore.Store the orchestrator
// depends on, mirrored for the same reason as blobStore.
type jobStore interface {
	CreateJob(ctx context.Context, req jobstore.CreateRequest) (*jobstore.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobstore.Job, error)
	UpdateStatus(ctx context.Context, jobID string, from, to jobstore.JobStatus, outputRef *jobstore.BlobRef, errMsg *string) error
	ScanPage(ctx context.Context, filter jobstore.ScanFilter, limit int, cursor string) ([]jobstore.Job, string, error)
}

// Orchestrator ties the storage gateway, job store, progress channel,
// transcoder supervisor and conversion pipeline together behind the
// HTTP-facing operations.
type Orchestrator struct {
	storage blobStore
	jobs    jobStore
	prog    *progress.Channel
	pipe    *pipeline.Pipeline
	super   *transcoder.Supervisor
	log     *slog.Logger

	defaultBucket    string
	supportedFormats map[string]bool

	mu      sync.Mutex
	running int

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New builds an Orchestrator. baseCtx is the long-lived context that
// pipeline goroutines are derived from (cancelled on shutdown, not on
// any individual request's completion).
func New(gw *storage.Gateway, jobs *jobstore.Store, prog *progress.Channel, super *transcoder.Supervisor, log *slog.Logger, cfg Config) *Orchestrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	formats := cfg.SupportedFormats
	if formats == nil {
		formats = defaultSupportedFormats
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	pipe := pipeline.New(gw, jobs, prog, super, log, cfg.TempDir)

	return &Orchestrator{
		storage:          gw,
		jobs:             jobs,
		prog:             prog,
		pipe:             pipe,
		super:            super,
		log:              log,
		defaultBucket:    cfg.DefaultBucket,
		supportedFormats: formats,
		baseCtx:          baseCtx,
		cancelBase:       cancel,
	}
}

// Shutdown cancels every in-flight pipeline and terminates every
// supervised transcoder process.
func (o *Orchestrator) Shutdown() {
	o.cancelBase()
	o.super.CleanupAll()
}

// RunningJobs reports the number of pipelines currently in flight.
func (o *Orchestrator) RunningJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// ConvertRequest is the decoded POST /convert body.
type ConvertRequest struct {
	FileID  string `json:"fileId"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
	Bucket  string `json:"bucket,omitempty"`
}

// ConvertResult is returned on successful job creation.
type ConvertResult struct {
	JobID   string
	Status  jobstore.JobStatus
	Message string
}

// Convert runs validation steps 2-11 of the conversion request
// lifecycle (step 1, JSON parsing, happens in the HTTP handler before
// this is called) and launches the pipeline asynchronously on success.
func (o *Orchestrator) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if req.FileID == "" || req.Format == "" || req.Quality == "" {
		return nil, newErr(KindValidation, "fileId, format and quality are required")
	}

	if !o.supportedFormats[req.Format] {
		return nil, newErr(KindValidation, fmt.Sprintf("Unsupported format: %s", req.Format))
	}

	if !qualityPattern.MatchString(req.Quality) {
		return nil, newErr(KindValidation, fmt.Sprintf("invalid quality %q", req.Quality))
	}

	bucket := req.Bucket
	if bucket == "" {
		bucket = o.defaultBucket
	}
	if bucket == "" {
		return nil, newErr(KindValidation, "no bucket specified and no default configured")
	}

	inputKey, err := o.resolveInputKey(ctx, bucket, req.FileID)
	if err != nil {
		return nil, err
	}

	head, err := o.storage.Head(ctx, storage.Ref{Bucket: bucket, Key: inputKey})
	if err != nil {
		return nil, wrapErr(KindNotFound, "source object not found", err)
	}
	if head.Size == 0 {
		return nil, newErr(KindValidation, "source object is empty")
	}

	job, err := o.jobs.CreateJob(ctx, jobstore.CreateRequest{
		InputRef: jobstore.BlobRef{Bucket: bucket, Key: inputKey, Size: head.Size},
		Format:   req.Format,
		Quality:  req.Quality,
	})
	if err != nil {
		return nil, wrapErr(KindInternal, "failed to create job", err)
	}

	if err := o.prog.Set(ctx, progress.Record{JobID: job.JobID, Stage: progress.StageQueued, Message: "queued", Progress: 0}); err != nil {
		o.log.Warn("progress init failed, continuing", "jobId", job.JobID, "error", err)
	}

	o.launchPipeline(ctx, job, bucket)

	return &ConvertResult{JobID: job.JobID, Status: job.Status, Message: "conversion started"}, nil
}

var inputKeyPattern = func(fileID string) *regexp.Regexp {
	return regexp.MustCompile(`^uploads/` + regexp.QuoteMeta(fileID) + `\.[A-Za-z0-9]+$`)
}

func (o *Orchestrator) resolveInputKey(ctx context.Context, bucket, fileID string) (string, error) {
	keys, err := o.storage.List(ctx, bucket, "uploads/"+fileID, 50)
	if err != nil {
		return "", wrapErr(KindInternal, "failed to list uploaded objects", err)
	}

	re := inputKeyPattern(fileID)
	for _, k := range keys {
		if re.MatchString(k) {
			return k, nil
		}
	}
	return "", newErr(KindNotFound, fmt.Sprintf("Input file not found: no uploaded object for fileId %q", fileID))
}

// launchPipeline runs the conversion on a goroutine derived from the
// orchestrator's base context, so it survives the HTTP request that
// triggered it but is still cancelled on shutdown. Pipeline failures
// update the job/progress state directly; the triggering request never
// sees them.
func (o *Orchestrator) launchPipeline(reqCtx context.Context, job *jobstore.Job, bucket string) {
	o.mu.Lock()
	o.running++
	o.mu.Unlock()

	pipelineCtx := observability.DetachTraceContextFrom(reqCtx, o.baseCtx)

	outputKey := fmt.Sprintf("conversions/%s.%s", job.JobID, job.Format)

	go func() {
		defer func() {
			o.mu.Lock()
			o.running--
			o.mu.Unlock()
		}()

		if err := o.jobs.UpdateStatus(pipelineCtx, job.JobID, jobstore.StatusCreated, jobstore.StatusProcessing, nil, nil); err != nil {
			o.log.Error("failed to transition job to PROCESSING", "jobId", job.JobID, "error", err)
			return
		}

		err := o.pipe.Run(pipelineCtx, pipeline.Options{
			JobID:     job.JobID,
			InputRef:  storage.Ref{Bucket: job.InputRef.Bucket, Key: job.InputRef.Key, Size: job.InputRef.Size},
			OutputRef: storage.Ref{Bucket: bucket, Key: outputKey},
			Format:    job.Format,
			Quality:   job.Quality,
			InputSize: job.InputRef.Size,
		})
		if err != nil {
			o.log.Error("pipeline failed", "jobId", job.JobID, "error", err)
		}
	}()
}

// Package pipeline drives a single conversion job end to end: read the
// source object, stream it through the media-tool subprocess, and
// multipart-upload the result, publishing phase progress throughout.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/progress"
	"github.com/apresai/audioconv/internal/storage"
	"github.com/apresai/audioconv/internal/transcoder"
)

// consistencyWait is the minimum pause between the job being marked
// COMPLETED and the progress channel's terminal "completed" write,
// giving the job store's read-after-write consistency window time to
// settle before clients act on the completed progress record.
const consistencyWait = 250 * time.Millisecond

// Options describes a single conversion request.
type Options struct {
	JobID     string
	InputRef  storage.Ref
	OutputRef storage.Ref
	Format    string
	Quality   string
	InputSize uint64

	// OnProgress, if set, receives every phase-progress event in
	// addition to the durable progress channel write.
	OnProgress progress.Callback
}

// Pipeline wires the storage gateway, job store, progress channel and
// transcoder supervisor together to run conversions.
type Pipeline struct {
	storage  *storage.Gateway
	jobs     *jobstore.Store
	prog     *progress.Channel
	super    *transcoder.Supervisor
	log      *slog.Logger
	tempRoot string
}

// New builds a Pipeline. tempRoot is the base directory for the
// fallback path's per-job working directories; if empty, os.TempDir()
// is used.
func New(gw *storage.Gateway, jobs *jobstore.Store, prog *progress.Channel, super *transcoder.Supervisor, log *slog.Logger, tempRoot string) *Pipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	return &Pipeline{storage: gw, jobs: jobs, prog: prog, super: super, log: log, tempRoot: tempRoot}
}

// Run executes the conversion. The context's deadline, if any, is
// narrowed to the size-derived timeout computed from opts.InputSize.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	timeout := DeriveTimeout(opts.InputSize)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	log := p.log.With("jobId", opts.JobID)

	emitDetail := func(stage progress.Stage, message string, u transcoder.ProgressUpdate) {
		rec := progress.Record{
			JobID:                 opts.JobID,
			Stage:                 stage,
			Message:               message,
			Progress:              u.Percent,
			CurrentTime:           u.CurrentTime,
			TotalDuration:         u.TotalDuration,
			EstimatedRemainingSec: u.EstimatedRemainingSec,
		}
		if err := p.prog.Set(ctx, rec); err != nil {
			log.Warn("progress write failed", "error", err)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(progress.NewEvent(stage, message, u.Percent, start))
		}
	}
	emit := func(stage progress.Stage, message string, percent int) {
		emitDetail(stage, message, transcoder.ProgressUpdate{Percent: percent})
	}

	compat := CheckCompatibility(filepath.Ext(opts.InputRef.Key), opts.Format)

	var runErr error
	if compat.StreamingSupported {
		runErr = p.runStreaming(ctx, opts, emit, emitDetail)
	} else {
		log.Info("routing to buffered fallback", "reason", compat.Reason)
		runErr = p.runBuffered(ctx, opts, emit, emitDetail)
	}

	if runErr != nil {
		p.fail(ctx, opts, runErr, log)
		return runErr
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, opts Options, cause error, log *slog.Logger) {
	message := cause.Error()
	if ctx.Err() == context.DeadlineExceeded {
		message = fmt.Sprintf("timed out after %s", DeriveTimeout(opts.InputSize))
	}

	log.Error("conversion failed", "error", cause)

	// Best effort: status/progress writes use a fresh background
	// context since ctx may already be cancelled or expired.
	bg := context.Background()
	if err := p.jobs.UpdateStatus(bg, opts.JobID, jobstore.StatusProcessing, jobstore.StatusFailed, nil, &message); err != nil {
		log.Warn("failed to record FAILED status", "error", err)
	}
	if err := p.prog.MarkFailed(bg, opts.JobID, cause); err != nil {
		log.Warn("failed to record failed progress", "error", err)
	}
}

type emitFunc func(stage progress.Stage, message string, percent int)
type emitDetailFunc func(stage progress.Stage, message string, u transcoder.ProgressUpdate)

// runStreaming wires the source stream directly into the transcoder's
// stdin and its stdout directly into the multipart uploader, so peak
// memory stays bounded regardless of input size.
func (p *Pipeline) runStreaming(ctx context.Context, opts Options, emit emitFunc, emitDetail emitDetailFunc) error {
	emit(progress.StageFetching, "creating source stream", 5)
	src, err := p.storage.Get(ctx, opts.InputRef)
	if err != nil {
		return stageErr("create-source-stream", "failed to open source object", err)
	}
	defer src.Close()

	if err := p.super.CheckReady(ctx); err != nil {
		return stageErr("spawn-tool", "transcoder not available", err)
	}

	emit(progress.StageSpawning, "starting transcoder", 15)

	handle, stdout, err := p.super.Spawn(ctx, transcoder.SpawnOptions{
		JobID:     opts.JobID,
		OutFormat: opts.Format,
		Quality:   opts.Quality,
		OnProgress: func(u transcoder.ProgressUpdate) {
			emitDetail(progress.StageStreaming, "streaming conversion in progress", u)
		},
	})
	if err != nil {
		return stageErr("spawn-tool", "failed to start transcoder", err)
	}
	defer p.super.Remove(opts.JobID)

	emit(progress.StageStreaming, "setting up streaming pipeline", 25)

	session, err := p.storage.MultipartUpload(ctx, opts.OutputRef, contentTypeFor(opts.Format))
	if err != nil {
		handle.Terminate()
		return stageErr("wire-pipeline", "failed to open multipart upload", err)
	}

	emit(progress.StageStreaming, "connecting streaming pipeline", 35)

	var copyErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, copyErr = io.Copy(handle.Stdin(), src)
		handle.Stdin().Close()
	}()

	var firstByte sync.Once
	reader := &observingReader{r: stdout, onFirstRead: func() {
		firstByte.Do(func() { emit(progress.StageStreaming, "processing audio stream", 50) })
	}}

	emit(progress.StageUploading, "uploading to object store", 70)
	total, uploadErr := session.UploadStream(ctx, reader)

	wg.Wait()
	waitErr := handle.Wait()

	if uploadErr != nil || copyErr != nil || waitErr != nil {
		_ = session.Abort(context.Background())
		handle.Terminate()
		if uploadErr != nil {
			return stageErr("streaming", "multipart upload failed", uploadErr)
		}
		if copyErr != nil {
			return stageErr("streaming", "failed writing to transcoder stdin", copyErr)
		}
		return stageErr("streaming", "transcoder exited abnormally", waitErr)
	}

	return p.finalize(ctx, opts, session, total, emit)
}

// runBuffered streams the source into the transcoder's stdin, writes the
// transcoder's stdout to a file under a per-job temp directory, and
// uploads that file once the transcoder has exited. Used for
// (inputExt, outputExt) pairs the compatibility gate flags as unsafe to
// stream. The input is not written to disk first: the transcoder reads
// it from a pipe and writes its output to a pipe, exactly as on the
// streaming path.
func (p *Pipeline) runBuffered(ctx context.Context, opts Options, emit emitFunc, emitDetail emitDetailFunc) error {
	emit(progress.StageFetching, "creating source stream", 5)
	src, err := p.storage.Get(ctx, opts.InputRef)
	if err != nil {
		return stageErr("create-source-stream", "failed to open source object", err)
	}
	defer src.Close()

	dir, err := os.MkdirTemp(p.tempRoot, "audioconv-"+opts.JobID+"-")
	if err != nil {
		return stageErr("wire-pipeline", "failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	if err := p.super.CheckReady(ctx); err != nil {
		return stageErr("spawn-tool", "transcoder not available", err)
	}

	emit(progress.StageSpawning, "starting transcoder", 15)

	handle, stdout, err := p.super.Spawn(ctx, transcoder.SpawnOptions{
		JobID:     opts.JobID,
		OutFormat: opts.Format,
		Quality:   opts.Quality,
		OnProgress: func(u transcoder.ProgressUpdate) {
			emitDetail(progress.StageStreaming, "streaming conversion in progress", u)
		},
	})
	if err != nil {
		return stageErr("spawn-tool", "failed to start transcoder", err)
	}
	defer p.super.Remove(opts.JobID)

	emit(progress.StageStreaming, "setting up streaming pipeline", 25)
	emit(progress.StageStreaming, "connecting streaming pipeline", 35)

	var copyErr error
	go func() {
		_, copyErr = io.Copy(handle.Stdin(), src)
		handle.Stdin().Close()
	}()

	outPath := filepath.Join(dir, "output."+opts.Format)
	outFile, err := os.Create(outPath)
	if err != nil {
		handle.Terminate()
		return stageErr("wire-pipeline", "failed to create temp output file", err)
	}

	var firstByte sync.Once
	reader := &observingReader{r: stdout, onFirstRead: func() {
		firstByte.Do(func() { emit(progress.StageStreaming, "processing audio stream", 50) })
	}}

	_, copyOutErr := io.Copy(outFile, reader)
	outFile.Close()
	waitErr := handle.Wait()

	if copyErr != nil || copyOutErr != nil || waitErr != nil {
		handle.Terminate()
		if copyErr != nil {
			return stageErr("streaming", "failed writing to transcoder stdin", copyErr)
		}
		if copyOutErr != nil {
			return stageErr("streaming", "failed buffering transcoder output", copyOutErr)
		}
		return stageErr("streaming", "transcoder exited abnormally", waitErr)
	}

	emit(progress.StageUploading, "uploading to object store", 70)

	outFile, err = os.Open(outPath)
	if err != nil {
		return stageErr("upload", "failed to reopen buffered output", err)
	}
	defer outFile.Close()

	session, err := p.storage.MultipartUpload(ctx, opts.OutputRef, contentTypeFor(opts.Format))
	if err != nil {
		return stageErr("upload", "failed to open multipart upload", err)
	}

	total, err := session.UploadStream(ctx, outFile)
	if err != nil {
		_ = session.Abort(context.Background())
		return stageErr("upload", "multipart upload failed", err)
	}

	return p.finalize(ctx, opts, session, total, emit)
}

func (p *Pipeline) finalize(ctx context.Context, opts Options, session *storage.MultipartSession, uploadedBytes uint64, emit emitFunc) error {
	emit(progress.StageFinalizing, "finalising", 98)

	if _, err := session.Complete(ctx); err != nil {
		return stageErr("finalise", "failed to complete multipart upload", err)
	}

	size := uploadedBytes
	if size == 0 {
		head, err := p.storage.Head(ctx, opts.OutputRef)
		if err == nil {
			size = head.Size
		}
	}

	outRef := opts.OutputRef
	outRef.Size = size

	if err := p.jobs.UpdateStatus(ctx, opts.JobID, jobstore.StatusProcessing, jobstore.StatusCompleted, &jobstore.BlobRef{
		Bucket: outRef.Bucket,
		Key:    outRef.Key,
		Size:   size,
	}, nil); err != nil {
		return stageErr("finalise", "failed to record completed status", err)
	}

	time.Sleep(consistencyWait)

	if err := p.prog.MarkComplete(ctx, opts.JobID, "completed"); err != nil {
		p.log.Warn("failed to mark progress complete", "jobId", opts.JobID, "error", err)
	}
	emit(progress.StageComplete, "completed", 100)
	return nil
}

func contentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "m4a", "aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

// observingReader wraps an io.Reader and calls onFirstRead once, the
// first time a Read returns a non-zero byte count.
type observingReader struct {
	r           io.Reader
	onFirstRead func()
	fired       bool
}

func (o *observingReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	if n > 0 && !o.fired {
		o.fired = true
		o.onFirstRead()
	}
	return n, err
}

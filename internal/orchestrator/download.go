package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/storage"
)

// DownloadOptions configures GET /download.
type DownloadOptions struct {
	JobID     string
	Presigned bool
	Preview   bool
	Filename  string
}

// PresignedDownload is returned when Presigned is requested.
type PresignedDownload struct {
	URL         string
	Filename    string
	ContentType string
	Size        uint64
}

// StreamDownload is returned in stream mode: Body must be closed by the
// caller once the response has been written (or on cancellation).
type StreamDownload struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength uint64
	Filename      string
	ETag          string
	LastModified  time.Time
}

const presignTTL = 1 * time.Hour

// ResolveDownload implements the GET /download status-gated lookup: it
// validates the job is COMPLETED, heads the output object, and returns
// either a presigned URL or a live byte stream depending on opts.
func (o *Orchestrator) ResolveDownload(ctx context.Context, opts DownloadOptions) (*PresignedDownload, *StreamDownload, error) {
	if opts.JobID == "" {
		return nil, nil, newErr(KindValidation, "jobId is required")
	}

	job, err := o.jobs.GetJob(ctx, opts.JobID)
	if err != nil {
		return nil, nil, wrapErr(KindInternal, "failed to look up job", err)
	}
	if job == nil {
		return nil, nil, newErr(KindNotFound, "job not found")
	}

	switch job.Status {
	case jobstore.StatusFailed:
		msg := "conversion failed"
		if job.Error != nil {
			msg = *job.Error
		}
		return nil, nil, newErr(KindGone, msg)
	case jobstore.StatusProcessing:
		return nil, nil, newErr(KindValidation, "Conversion is still in progress, please wait")
	case jobstore.StatusCreated:
		return nil, nil, newErr(KindValidation, "conversion not started")
	case jobstore.StatusCompleted:
		// fall through
	default:
		return nil, nil, newErr(KindValidation, "unknown job status")
	}

	if job.OutputRef == nil {
		return nil, nil, newErr(KindNotFound, "file not found in storage")
	}
	ref := storage.Ref{Bucket: job.OutputRef.Bucket, Key: job.OutputRef.Key}

	head, err := o.storage.Head(ctx, ref)
	if err != nil {
		return nil, nil, newErr(KindNotFound, "file not found in storage")
	}

	filename := opts.Filename
	if filename == "" {
		filename = fmt.Sprintf("%s.%s", opts.JobID, job.Format)
	}

	if opts.Presigned {
		disposition := ""
		if !opts.Preview {
			disposition = fmt.Sprintf(`attachment; filename="%s"`, filename)
		}
		url, err := o.storage.Presign(ctx, ref, storage.PresignOptions{TTL: presignTTL, ResponseDisposition: disposition})
		if err != nil {
			return nil, nil, wrapErr(KindInternal, "failed to presign download", err)
		}
		return &PresignedDownload{
			URL:         url,
			Filename:    filename,
			ContentType: head.ContentType,
			Size:        head.Size,
		}, nil, nil
	}

	body, err := o.storage.Get(ctx, ref)
	if err != nil {
		return nil, nil, wrapErr(KindInternal, "failed to open output stream", err)
	}

	return nil, &StreamDownload{
		Body:          body,
		ContentType:   head.ContentType,
		ContentLength: head.Size,
		Filename:      filename,
		ETag:          head.ETag,
		LastModified:  head.LastModified,
	}, nil
}

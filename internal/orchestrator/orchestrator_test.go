package orchestrator

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/storage"
)

// fakeBlobStore and fakeJobStore let these tests exercise Convert and
// ResolveDownload's validation paths without a real S3 client or
// DynamoDB table; only the orchestrator's pre-pipeline/pre-stream
// validation is under test here, so most methods are never called.
type fakeBlobStore struct {
	listKeys []string
	listErr  error
	head     *storage.HeadResult
	headErr  error
}

func (f *fakeBlobStore) Head(ctx context.Context, ref storage.Ref) (*storage.HeadResult, error) {
	return f.head, f.headErr
}

func (f *fakeBlobStore) Get(ctx context.Context, ref storage.Ref) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeBlobStore) Presign(ctx context.Context, ref storage.Ref, opts storage.PresignOptions) (string, error) {
	return "", nil
}

func (f *fakeBlobStore) List(ctx context.Context, bucket, prefix string, limit int) ([]string, error) {
	return f.listKeys, f.listErr
}

type fakeJobStore struct {
	job          *jobstore.Job
	getErr       error
	createCalled bool
}

func (f *fakeJobStore) CreateJob(ctx context.Context, req jobstore.CreateRequest) (*jobstore.Job, error) {
	f.createCalled = true
	return &jobstore.Job{JobID: "fake-job", Status: jobstore.StatusCreated, InputRef: req.InputRef, Format: req.Format, Quality: req.Quality}, nil
}

func (f *fakeJobStore) GetJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	return f.job, f.getErr
}

func (f *fakeJobStore) UpdateStatus(ctx context.Context, jobID string, from, to jobstore.JobStatus, outputRef *jobstore.BlobRef, errMsg *string) error {
	return nil
}

func (f *fakeJobStore) ScanPage(ctx context.Context, filter jobstore.ScanFilter, limit int, cursor string) ([]jobstore.Job, string, error) {
	return nil, "", nil
}

func newTestOrchestrator(storage blobStore, jobs jobStore) *Orchestrator {
	return &Orchestrator{
		storage:          storage,
		jobs:             jobs,
		supportedFormats: defaultSupportedFormats,
		defaultBucket:    "test-bucket",
	}
}

func TestConvertRejectsUnsupportedFormat(t *testing.T) {
	o := newTestOrchestrator(&fakeBlobStore{}, &fakeJobStore{})

	_, err := o.Convert(context.Background(), ConvertRequest{FileID: "abc", Format: "xyz", Quality: "128k"})
	if err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
	if !strings.Contains(err.Error(), "Unsupported format: xyz") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "Unsupported format: xyz")
	}
}

func TestConvertRejectsMissingInputFile(t *testing.T) {
	o := newTestOrchestrator(&fakeBlobStore{listKeys: nil}, &fakeJobStore{})

	_, err := o.Convert(context.Background(), ConvertRequest{FileID: "ghost", Format: "mp3", Quality: "128k"})
	if err == nil {
		t.Fatal("expected an error for a missing input file")
	}
	if !strings.Contains(err.Error(), "Input file not found") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "Input file not found")
	}
}

func TestResolveDownloadRejectsStillProcessing(t *testing.T) {
	jobs := &fakeJobStore{job: &jobstore.Job{JobID: "job-1", Status: jobstore.StatusProcessing}}
	o := newTestOrchestrator(&fakeBlobStore{}, jobs)

	_, _, err := o.ResolveDownload(context.Background(), DownloadOptions{JobID: "job-1"})
	if err == nil {
		t.Fatal("expected an error while the job is still processing")
	}
	if err.Error() != "Conversion is still in progress, please wait" {
		t.Errorf("error = %q, want exactly %q", err.Error(), "Conversion is still in progress, please wait")
	}
}

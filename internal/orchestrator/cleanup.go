package orchestrator

import (
	"context"

	"github.com/apresai/audioconv/internal/jobstore"
)

// Cleanup terminates any supervised transcoder for jobID and marks the
// job/progress failed with reason. Idempotent: calling it again on an
// already-terminal job is a no-op beyond the (ignored) terminate error.
func (o *Orchestrator) Cleanup(ctx context.Context, jobID, reason string) error {
	if jobID == "" {
		return newErr(KindValidation, "jobId is required")
	}

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return wrapErr(KindInternal, "failed to look up job", err)
	}
	if job == nil {
		return newErr(KindNotFound, "job not found")
	}

	if err := o.super.TerminateJob(jobID); err != nil {
		o.log.Debug("no running transcoder to terminate", "jobId", jobID, "error", err)
	}

	if jobstore.IsTerminal(job.Status) {
		return nil
	}

	if reason == "" {
		reason = "cancelled by cleanup request"
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, job.Status, jobstore.StatusFailed, nil, &reason); err != nil {
		return wrapErr(KindInternal, "failed to mark job failed", err)
	}
	if err := o.prog.MarkFailed(ctx, jobID, errString(reason)); err != nil {
		o.log.Warn("failed to mark progress failed during cleanup", "jobId", jobID, "error", err)
	}
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

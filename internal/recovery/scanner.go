// Package recovery sweeps the job store for conversions that were
// abandoned by a crashed or restarted server, transitioning them to
// FAILED so they don't sit in PROCESSING forever.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/pipeline"
	"github.com/apresai/audioconv/internal/progress"
	"github.com/apresai/audioconv/internal/transcoder"
)

// minOrphanAge is the floor applied to the size-derived timeout when
// deciding whether a PROCESSING job found at startup is orphaned: even
// a small file's short timeout shouldn't make the startup sweep trigger
// on a job that simply started seconds before the crash.
const minOrphanAge = 15 * time.Minute

// stuckProgressWindow is how long a PROCESSING job may go without a
// progress-channel update before the periodic sweep considers it stuck.
const stuckProgressWindow = 5 * time.Minute

// Scanner periodically reconciles the job store against reality.
type Scanner struct {
	jobs  *jobstore.Store
	prog  *progress.Channel
	super *transcoder.Supervisor
	log   *slog.Logger
}

// NewScanner builds a Scanner.
func NewScanner(jobs *jobstore.Store, prog *progress.Channel, super *transcoder.Supervisor, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scanner{jobs: jobs, prog: prog, super: super, log: log}
}

// ScanOrphans transitions every PROCESSING job whose updatedAt predates
// max(size-derived timeout, minOrphanAge) to FAILED. Intended to run
// once at server startup, before any new conversions are accepted.
func (s *Scanner) ScanOrphans(ctx context.Context) (int, error) {
	jobs, err := s.jobs.Scan(ctx, jobstore.ScanFilter{Status: jobstore.StatusProcessing}, 0)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	failed := 0
	for _, j := range jobs {
		cutoff := pipeline.DeriveTimeout(j.InputRef.Size)
		if cutoff < minOrphanAge {
			cutoff = minOrphanAge
		}
		if now.Sub(j.UpdatedAt) < cutoff {
			continue
		}
		s.fail(ctx, j, "orphaned on restart")
		failed++
	}
	return failed, nil
}

// ScanStuck transitions PROCESSING jobs whose progress record hasn't
// moved in stuckProgressWindow to FAILED. Intended to run periodically
// while the server is up.
func (s *Scanner) ScanStuck(ctx context.Context) (int, error) {
	jobs, err := s.jobs.Scan(ctx, jobstore.ScanFilter{Status: jobstore.StatusProcessing}, 0)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	failed := 0
	for _, j := range jobs {
		rec, err := s.prog.Get(ctx, j.JobID)
		if err != nil {
			s.log.Warn("progress lookup failed during stuck scan", "jobId", j.JobID, "error", err)
			continue
		}
		lastUpdate := j.UpdatedAt
		if rec != nil && rec.UpdatedAt.After(lastUpdate) {
			lastUpdate = rec.UpdatedAt
		}
		if now.Sub(lastUpdate) < stuckProgressWindow {
			continue
		}
		s.fail(ctx, j, "no progress for longer than the stuck-job window")
		failed++
	}
	return failed, nil
}

func (s *Scanner) fail(ctx context.Context, j jobstore.Job, reason string) {
	_ = s.super.TerminateJob(j.JobID)

	if err := s.jobs.UpdateStatus(ctx, j.JobID, jobstore.StatusProcessing, jobstore.StatusFailed, nil, &reason); err != nil {
		s.log.Error("failed to mark orphaned job failed", "jobId", j.JobID, "error", err)
		return
	}
	if err := s.prog.MarkFailed(ctx, j.JobID, reasonError(reason)); err != nil {
		s.log.Warn("failed to mark orphaned progress failed", "jobId", j.JobID, "error", err)
	}
	s.log.Info("recovered orphaned job", "jobId", j.JobID, "reason", reason)
}

type reasonError string

func (e reasonError) Error() string { return string(e) }

// Run loops ScanStuck every interval until ctx is cancelled, for the
// HTTP server's background maintenance sweep.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ScanStuck(ctx); err != nil {
				s.log.Error("stuck-job scan failed", "error", err)
			} else if n > 0 {
				s.log.Info("stuck-job scan recovered jobs", "count", n)
			}
		}
	}
}

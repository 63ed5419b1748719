package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/apresai/audioconv/internal/jobstore"
)

const defaultListLimit = 20
const maxListLimit = 100

// ConvertedFile is one row of the GET /converted-files listing.
type ConvertedFile struct {
	JobID       string
	DisplayName string
	Format      string
	Quality     string
	Size        uint64
	UpdatedAt   string
	OutputRef   jobstore.BlobRef
}

// ConvertedFilesPage is a single cursor-paginated page of completed jobs.
type ConvertedFilesPage struct {
	Files      []ConvertedFile
	Count      int
	NextCursor string
}

// ListConvertedFiles returns a page of COMPLETED jobs, newest writes
// first within a page. limit is clamped to [1, maxListLimit].
func (o *Orchestrator) ListConvertedFiles(ctx context.Context, limit int, cursor string) (*ConvertedFilesPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, next, err := o.jobs.ScanPage(ctx, jobstore.ScanFilter{Status: jobstore.StatusCompleted}, limit, cursor)
	if err != nil {
		return nil, wrapErr(KindInternal, "failed to list converted files", err)
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt) })

	files := make([]ConvertedFile, 0, len(jobs))
	for _, j := range jobs {
		if j.OutputRef == nil {
			continue
		}
		files = append(files, ConvertedFile{
			JobID:       j.JobID,
			DisplayName: fmt.Sprintf("%s.%s", j.JobID, j.Format),
			Format:      j.Format,
			Quality:     j.Quality,
			Size:        j.OutputRef.Size,
			UpdatedAt:   j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			OutputRef:   *j.OutputRef,
		})
	}

	return &ConvertedFilesPage{Files: files, Count: len(files), NextCursor: next}, nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/apresai/audioconv/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, orchestrator.StatusCode(err), map[string]string{"error": err.Error()})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req orchestrator.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New("Invalid JSON in request body"))
		return
	}

	result, err := s.orch.Convert(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Job-Id", result.JobID)
	w.Header().Set("X-Response-Time", time.Since(start).String())
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":   result.JobID,
		"status":  string(result.Status),
		"message": result.Message,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, errors.New("jobId is required"))
		return
	}

	rec, err := s.prog.Get(r.Context(), jobID)
	if err != nil {
		s.log.Error("progress lookup failed", "jobId", jobID, "error", err)
		writeError(w, errors.New("internal error reading progress"))
		return
	}
	if rec == nil {
		writeError(w, errors.New("job not found"))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	presigned := r.URL.Query().Get("presigned") == "true"
	preview := r.URL.Query().Get("preview") == "true"
	filename := r.URL.Query().Get("filename")

	presignedResult, stream, err := s.orch.ResolveDownload(r.Context(), orchestrator.DownloadOptions{
		JobID:     jobID,
		Presigned: presigned,
		Preview:   preview,
		Filename:  filename,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if presignedResult != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"presignedUrl": presignedResult.URL,
			"filename":     presignedResult.Filename,
			"contentType":  presignedResult.ContentType,
			"size":         presignedResult.Size,
		})
		return
	}

	defer stream.Body.Close()

	h := w.Header()
	h.Set("Content-Type", stream.ContentType)
	h.Set("Content-Length", strconv.FormatUint(stream.ContentLength, 10))
	h.Set("Content-Disposition", `attachment; filename="`+stream.Filename+`"`)
	h.Set("Cache-Control", "no-cache,no-store,must-revalidate")
	h.Set("Accept-Ranges", "bytes")
	if stream.ETag != "" {
		h.Set("ETag", stream.ETag)
	}
	if !stream.LastModified.IsZero() {
		h.Set("Last-Modified", stream.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	streamBody(r.Context(), w, stream.Body, s.log)
}

// streamBody copies src to dst in chunks, stopping as soon as the
// request context is cancelled (client disconnect) so no further
// chunks are written once the response has gone away, and the upstream
// object stream is released immediately rather than drained to EOF.
func streamBody(ctx context.Context, dst io.Writer, src io.Reader, log *slog.Logger) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return
			}
			if f, ok := dst.(http.Flusher); ok {
				f.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			log.Warn("download stream read failed", "error", readErr)
			return
		}
	}
}

type cleanupRequest struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New("Invalid JSON in request body"))
		return
	}

	if err := s.orch.Cleanup(r.Context(), req.JobID, req.Reason); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID, "status": "cleaned up"})
}

func (s *Server) handleConvertedFiles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := s.orch.ListConvertedFiles(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files":      page.Files,
		"count":      page.Count,
		"nextCursor": page.NextCursor,
	})
}

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lakeflow/control-plane/internal/domain"
	"github.com/lakeflow/control-plane/internal/jobstore"
)

type createdResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CheckStatusAt string `json:"check_status_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// handleUpload implements spec §6 operation 1 (Submit upload): stage the
// blob, create the job record, enqueue the work message. If the enqueue
// fails after the job record was created, the job is marked failed with a
// bus_error message before the 500 is returned, so the status endpoint
// never shows a queued job with no corresponding bus message.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(s.cfg.FileMaxSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: %v", err)
		return
	}

	project := r.FormValue("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, "invalid_input: project is required")
		return
	}
	user := r.FormValue("user")
	table := r.FormValue("table")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: file is required: %v", err)
		return
	}
	defer file.Close() //nolint:errcheck

	if header.Size > s.cfg.FileMaxSize {
		writeError(w, http.StatusBadRequest, "invalid_input: file size %d exceeds maximum %d", header.Size, s.cfg.FileMaxSize)
		return
	}

	fileName := header.Filename
	if v := r.FormValue("file_name"); v != "" {
		fileName = v
	}

	id := uuid.NewString()
	blobPath := fmt.Sprintf("uploads/%s/%s", id, fileName)

	if err := s.store.Put(ctx, s.cfg.UploadsBucket, blobPath, file, header.Size, "application/octet-stream"); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error: %v", err)
		return
	}

	payload := domain.UploadPayload{
		User: user, Project: project, Table: table,
		FileName: fileName, BlobPath: blobPath, FileSize: header.Size,
	}

	if _, err := s.jobs.Create(ctx, domain.JobKindUpload, id, payload); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error: %v", err)
		return
	}

	if err := s.bus.Publish(ctx, id, string(domain.JobKindUpload), payload); err != nil {
		s.failJobOnEnqueueError(ctx, id, err)
		writeError(w, http.StatusInternalServerError, "bus_error: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, createdResponse{ID: id, Status: string(domain.JobStatusQueued)})
}

// handleGetJob implements spec §6 operation 4: return the full job record
// regardless of kind.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job %q not found", id)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleUpdateJobStatus implements spec §6 operation 5: an internal status
// update surface, idempotent even for unknown ids (200 no-op, logged).
func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: %v", err)
		return
	}

	status := domain.JobStatus(body.Status)
	switch status {
	case domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid_input: unsupported status %q", body.Status)
		return
	}

	_, err := s.jobs.Update(r.Context(), id, jobstore.StatusUpdate{Status: status, Message: body.Message})
	if err != nil {
		s.logger.Info("status update for unknown or expired job, no-op", "job_id", id, "status", status)
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// handleSubmitQuery implements spec §6 operation 2: validate the spec,
// resolve source (job id or "project.table"), create and enqueue the job.
func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var spec domain.QuerySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: malformed query spec: %v", err)
		return
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: %v", err)
		return
	}

	resolvedSource, err := s.resolveSource(ctx, spec.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: %v", err)
		return
	}
	spec.Source = resolvedSource

	specJSON, err := json.Marshal(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input: %v", err)
		return
	}

	id := uuid.NewString()
	payload := domain.QueryPayload{Source: spec.Source, QuerySpecJSON: string(specJSON)}

	if _, err := s.jobs.Create(ctx, domain.JobKindQuery, id, payload); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error: %v", err)
		return
	}

	if err := s.bus.Publish(ctx, id, string(domain.JobKindQuery), payload); err != nil {
		s.failJobOnEnqueueError(ctx, id, err)
		writeError(w, http.StatusInternalServerError, "bus_error: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, createdResponse{
		ID: id, Status: string(domain.JobStatusQueued),
		CheckStatusAt: fmt.Sprintf("/api/v1/query/%s", id),
	})
}

// resolveSource rewrites a job-id source to "project.table" by loading the
// referenced upload job's payload; any other source string passes through
// unchanged.
func (s *Server) resolveSource(ctx context.Context, source string) (string, error) {
	job, err := s.jobs.Get(ctx, source)
	if err != nil {
		return source, nil // not a known job id, treat as a literal "project.table"
	}
	upload, ok := job.Payload.(domain.UploadPayload)
	if !ok {
		return "", fmt.Errorf("source %q does not refer to an upload job", source)
	}
	if upload.Table == "" {
		return "", fmt.Errorf("source %q has no associated table", source)
	}
	return upload.Project + "." + upload.Table, nil
}

// handleSubmitSchema implements spec §6 operation 3.
func (s *Server) handleSubmitSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := chi.URLParam(r, "project")
	table := chi.URLParam(r, "table")

	id := uuid.NewString()
	payload := domain.SchemaPayload{Project: project, Table: table}

	if _, err := s.jobs.Create(ctx, domain.JobKindSchema, id, payload); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error: %v", err)
		return
	}

	if err := s.bus.Publish(ctx, id, string(domain.JobKindSchema), payload); err != nil {
		s.failJobOnEnqueueError(ctx, id, err)
		writeError(w, http.StatusInternalServerError, "bus_error: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, createdResponse{
		ID: id, Status: string(domain.JobStatusQueued),
		CheckStatusAt: fmt.Sprintf("/api/v1/jobs/%s", id),
	})
}

// handleQueueStats implements spec §6 operation 6.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.bus.Stats(s.cfg.QueueName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bus_error: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_name":     stats.QueueName,
		"message_count":  stats.MessageCount,
		"consumer_count": stats.ConsumerCount,
		"status":         stats.Status,
	})
}

// failJobOnEnqueueError enforces the failure ordering rule from spec §4.E:
// if enqueue fails after the job record was created, mark the job failed
// with a bus_error message before the handler returns its 5xx.
func (s *Server) failJobOnEnqueueError(ctx context.Context, id string, cause error) {
	_, err := s.jobs.Update(ctx, id, jobstore.StatusUpdate{
		Status:  domain.JobStatusFailed,
		Message: fmt.Sprintf("bus_error: %v", cause),
	})
	if err != nil {
		s.logger.Warn("failed to mark job failed after enqueue error", "job_id", id, "error", err)
	}
}

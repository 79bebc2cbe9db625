package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/signagekit/transferd/internal/server/middleware"
	"github.com/signagekit/transferd/pkg/assembler"
	"github.com/signagekit/transferd/pkg/jobstore"
)

// maxChunkMemory caps how much of a multipart chunk is buffered in memory
// before spilling to disk.
const maxChunkMemory = 32 << 20

// DownloadSubmitter admits download jobs (the admission controller).
type DownloadSubmitter interface {
	Submit(url, quality string) (*jobstore.Job, error)
}

// DownloadCanceller cancels an in-flight download (the download driver).
type DownloadCanceller interface {
	Cancel(jobID string) error
}

// JobsHandler is the HTTP surface over the transfer core. Thin by design:
// it deserializes, delegates, and serializes.
type JobsHandler struct {
	store     *jobstore.Store
	assembler *assembler.Assembler
	submitter DownloadSubmitter
	canceller DownloadCanceller
	log       *zap.Logger
}

func NewJobsHandler(store *jobstore.Store, asm *assembler.Assembler, submitter DownloadSubmitter, canceller DownloadCanceller, log *zap.Logger) *JobsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobsHandler{
		store:     store,
		assembler: asm,
		submitter: submitter,
		canceller: canceller,
		log:       log,
	}
}

type chunkResponse struct {
	JobID          string `json:"job_id"`
	ReceivedChunks int    `json:"received_chunks"`
	TotalChunks    int    `json:"total_chunks"`
}

// SubmitChunk handles POST /jobs/upload: one multipart chunk with fields
// job_id (optional on the first chunk), chunk_index, total_chunks, filename
// and file part "chunk". The terminal job summary is returned when the last
// chunk completes reassembly.
func (h *JobsHandler) SubmitChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxChunkMemory); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart payload", nil)
		return
	}

	chunkIndex, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "chunk_index must be an integer", nil)
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "total_chunks must be an integer", nil)
		return
	}

	job, err := h.assembler.BeginOrResume(r.FormValue("job_id"), totalChunks, r.FormValue("filename"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	part, _, err := r.FormFile("chunk")
	if err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "multipart part \"chunk\" is required", nil)
		return
	}
	defer func() { _ = part.Close() }()

	job, err = h.assembler.ReceiveChunk(job.ID, chunkIndex, part)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	if job.Status.Terminal() {
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeJSON(w, http.StatusOK, chunkResponse{
		JobID:          job.ID,
		ReceivedChunks: job.ReceivedChunks,
		TotalChunks:    job.TotalChunks,
	})
}

type downloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type downloadResponse struct {
	JobID  string          `json:"job_id"`
	Status jobstore.Status `json:"status"`
}

// SubmitDownload handles POST /jobs/download. The response carries the new
// job id immediately; it never blocks on subprocess completion.
func (h *JobsHandler) SubmitDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}
	if req.Quality == "" {
		req.Quality = "best"
	}

	job, err := h.submitter.Submit(req.URL, req.Quality)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusAccepted, downloadResponse{JobID: job.ID, Status: job.Status})
}

// GetJob handles GET /jobs/{jobID}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs, newest first.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List()
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	if jobs == nil {
		jobs = []jobstore.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// DeleteJob handles DELETE /jobs/{jobID}. An active download is cancelled
// first; an active upload cannot be deleted mid-assembly.
func (h *JobsHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.store.Get(jobID)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	if job.Status == jobstore.StatusActive {
		switch job.Kind {
		case jobstore.KindUpload:
			middleware.WriteError(w, r, http.StatusConflict, "JOB_BUSY",
				"upload is receiving chunks and cannot be deleted", nil)
			return
		case jobstore.KindDownload:
			if err := h.canceller.Cancel(jobID); err != nil {
				middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
				return
			}
		}
	}

	if err := h.assembler.RemoveScratch(jobID); err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	if err := h.store.Delete(jobID); err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	h.log.Info("job deleted", zap.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// writeJobError maps domain errors onto the HTTP error envelope.
func (h *JobsHandler) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, jobstore.ErrDuplicateID):
		middleware.WriteError(w, r, http.StatusConflict, "DUPLICATE_ID", err.Error(), nil)
	case errors.Is(err, assembler.ErrInvalidChunk), errors.Is(err, assembler.ErrInvalidFilename):
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		middleware.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

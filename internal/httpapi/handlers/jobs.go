package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lamina/internal/httpkit"
	"lamina/internal/models"
	"lamina/internal/store"
	"lamina/internal/util"
)

type CreateJobRequest struct {
	ModelRef        string         `json:"model_ref"`
	PrinterID       string         `json:"printer_id"`
	PrintProfile    string         `json:"print_profile,omitempty"`
	MaterialProfile string         `json:"material_profile,omitempty"`
	ParamOverrides  map[string]any `json:"param_overrides,omitempty"`
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	req.ModelRef = strings.TrimSpace(req.ModelRef)
	req.PrinterID = strings.TrimSpace(req.PrinterID)

	if req.PrinterID == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "printer_id is required", map[string]any{"field": "printer_id"})
		return
	}
	ref, err := models.ParseRef(req.ModelRef)
	if err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "model_ref must be <store>:<path>", map[string]any{"field": "model_ref"})
		return
	}
	if !models.SupportedModelExt(filepath.Ext(ref.Path)) {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "model format not supported", map[string]any{"field": "model_ref"})
		return
	}

	job := &models.Job{
		ID:              util.NewID("job"),
		ModelRef:        req.ModelRef,
		PrinterID:       models.NormalizePrinterID(req.PrinterID),
		PrintProfile:    strings.TrimSpace(req.PrintProfile),
		MaterialProfile: strings.TrimSpace(req.MaterialProfile),
		ParamOverrides:  req.ParamOverrides,
		Status:          models.StatusQueued,
		CreatedAt:       time.Now().UTC(),
	}

	if err := h.jobs.Create(ctx, job); err != nil {
		h.log.Error("job insert failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db insert failed", nil)
		return
	}

	if err := h.q.Push(ctx, job.ID); err != nil {
		h.log.Error("queue push failed", "job_id", job.ID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "queue push failed", nil)
		return
	}

	httpkit.WriteJSON(w, 201, map[string]any{"job": job})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	jobs, err := h.jobs.List(ctx, status, limit)
	if err != nil {
		h.log.Error("job list failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"jobs": jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
			return
		}
		h.log.Error("job load failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"job": job})
}

// RequeueJob resets a terminal job back to queued and pushes it again. Jobs
// still being processed cannot be requeued.
func (h *Handler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
			return
		}
		h.log.Error("job load failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}
	if job.Status == models.StatusProcessing {
		httpkit.WriteErr(w, 409, "JOB_IN_PROGRESS", "job is being processed", map[string]any{"job_id": jobID})
		return
	}

	if err := h.jobs.Requeue(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpkit.WriteErr(w, 409, "JOB_IN_PROGRESS", "job is being processed", map[string]any{"job_id": jobID})
			return
		}
		h.log.Error("job requeue failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db update failed", nil)
		return
	}

	if err := h.q.Push(ctx, jobID); err != nil {
		h.log.Error("queue push failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "queue push failed", nil)
		return
	}

	httpkit.WriteJSON(w, 202, map[string]any{"job_id": jobID, "status": string(models.StatusQueued)})
}

// GetJobArtifactURL hands out a time-limited download URL for one of the
// job's produced artifacts (native, project or layers).
func (h *Handler) GetJobArtifactURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")
	class := chi.URLParam(r, "class")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
			return
		}
		h.log.Error("job load failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	var rawRef string
	switch class {
	case "native":
		rawRef = job.NativeRef
	case "project":
		rawRef = job.ProjectRef
	case "layers":
		rawRef = job.LayersRef
	default:
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "unknown artifact class", map[string]any{"field": "class"})
		return
	}
	if rawRef == "" {
		httpkit.WriteErr(w, 404, "ARTIFACT_NOT_FOUND", "artifact not produced for this job", map[string]any{"job_id": jobID, "class": class})
		return
	}

	ref, err := models.ParseRef(rawRef)
	if err != nil {
		h.log.Error("stored artifact ref invalid", "job_id", jobID, "ref", rawRef)
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "stored artifact reference invalid", nil)
		return
	}

	signed, err := h.sp.GetSignedURL(ctx, ref.Key(), 30*time.Minute)
	if err != nil {
		h.log.Error("signed url failed", "job_id", jobID, "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "signed url failed", nil)
		return
	}
	if signed.URL == "" {
		// Provider without signed URLs; stream through the API instead.
		signed.URL = fmt.Sprintf("http://localhost:%s/jobs/%s/artifacts/%s/content",
			util.Env("HTTP_PORT", "8080"), jobID, class)
		signed.ExpiresAt = time.Now().UTC().Add(30 * time.Minute)
	}

	httpkit.WriteJSON(w, 200, map[string]any{
		"job_id":     jobID,
		"class":      class,
		"url":        signed.URL,
		"expires_at": signed.ExpiresAt,
	})
}

// StreamJobArtifact proxies an artifact's bytes through the API, for
// storage providers that cannot hand out direct URLs.
func (h *Handler) StreamJobArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")
	class := chi.URLParam(r, "class")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
		return
	}

	var rawRef string
	switch class {
	case "native":
		rawRef = job.NativeRef
	case "project":
		rawRef = job.ProjectRef
	case "layers":
		rawRef = job.LayersRef
	}
	if rawRef == "" {
		httpkit.WriteErr(w, 404, "ARTIFACT_NOT_FOUND", "artifact not produced for this job", map[string]any{"job_id": jobID, "class": class})
		return
	}
	ref, err := models.ParseRef(rawRef)
	if err != nil {
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "stored artifact reference invalid", nil)
		return
	}

	rc, ct, size, err := h.sp.GetObject(ctx, ref.Key())
	if err != nil {
		httpkit.WriteErr(w, 404, "ARTIFACT_FILE_MISSING", "artifact file missing", map[string]any{"object_key": ref.Key()})
		return
	}
	defer rc.Close()

	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
}

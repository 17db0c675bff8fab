package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"lamina/internal/httpkit"
	"lamina/internal/models"
	"lamina/internal/ports"
	"lamina/internal/util"
)

// PostModel accepts a mesh file as multipart form data, stores it and
// returns the reference to submit with a job.
func (h *Handler) PostModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(512 << 20); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid multipart form", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "file is required", map[string]any{"field": "file"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !models.SupportedModelExt(ext) {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "model format not supported", map[string]any{"field": "file"})
		return
	}

	modelID := util.NewID("mdl")
	objectKey := fmt.Sprintf("models/%s/original%s", modelID, ext)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		h.log.Error("model upload failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "storage put failed", nil)
		return
	}

	ref := models.Ref{Store: h.namespace, Path: out.ObjectKey}
	httpkit.WriteJSON(w, 201, map[string]any{
		"model": map[string]any{
			"id":         modelID,
			"model_ref":  ref.String(),
			"object_key": out.ObjectKey,
			"mime":       contentType,
			"size_bytes": out.Size,
		},
	})
}

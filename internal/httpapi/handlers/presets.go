package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lamina/internal/httpkit"
	"lamina/internal/models"
	"lamina/internal/store"
)

type CreatePresetRequest struct {
	PrinterID    string `json:"printer_id"`
	BundleRef    string `json:"bundle_ref"`
	ParamsRef    string `json:"params_ref"`
	TargetFormat string `json:"target_format"`
	BundleSHA256 string `json:"bundle_sha256,omitempty"`

	PrinterProfile  string `json:"printer_profile,omitempty"`
	PrintProfile    string `json:"print_profile,omitempty"`
	MaterialProfile string `json:"material_profile,omitempty"`
}

func (h *Handler) PostPreset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePresetRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	req.PrinterID = strings.TrimSpace(req.PrinterID)
	if req.PrinterID == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "printer_id is required", map[string]any{"field": "printer_id"})
		return
	}
	if _, err := models.ParseRef(req.BundleRef); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "bundle_ref must be <store>:<path>", map[string]any{"field": "bundle_ref"})
		return
	}
	if _, err := models.ParseRef(req.ParamsRef); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "params_ref must be <store>:<path>", map[string]any{"field": "params_ref"})
		return
	}
	if strings.TrimSpace(req.TargetFormat) == "" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "target_format is required", map[string]any{"field": "target_format"})
		return
	}

	preset := &models.Preset{
		PrinterID:       models.NormalizePrinterID(req.PrinterID),
		BundleRef:       strings.TrimSpace(req.BundleRef),
		ParamsRef:       strings.TrimSpace(req.ParamsRef),
		TargetFormat:    strings.ToLower(strings.TrimSpace(req.TargetFormat)),
		BundleSHA256:    strings.ToLower(strings.TrimSpace(req.BundleSHA256)),
		PrinterProfile:  strings.TrimSpace(req.PrinterProfile),
		PrintProfile:    strings.TrimSpace(req.PrintProfile),
		MaterialProfile: strings.TrimSpace(req.MaterialProfile),
		CreatedAt:       time.Now().UTC(),
	}

	if err := h.presets.Create(ctx, preset); err != nil {
		if errors.Is(err, store.ErrPresetExists) {
			httpkit.WriteErr(w, 409, "PRESET_EXISTS", "preset already exists for printer", map[string]any{"printer_id": preset.PrinterID})
			return
		}
		h.log.Error("preset insert failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db insert failed", nil)
		return
	}

	httpkit.WriteJSON(w, 201, map[string]any{"preset": preset})
}

func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	presets, err := h.presets.List(ctx)
	if err != nil {
		h.log.Error("preset list failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"presets": presets})
}

func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	printerID := chi.URLParam(r, "printerId")

	preset, err := h.presets.Get(ctx, models.NormalizePrinterID(printerID))
	if err != nil {
		if errors.Is(err, store.ErrPresetNotFound) {
			httpkit.WriteErr(w, 404, "PRESET_NOT_FOUND", "preset not found", map[string]any{"printer_id": printerID})
			return
		}
		h.log.Error("preset load failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"preset": preset})
}

func (h *Handler) DeletePreset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	printerID := chi.URLParam(r, "printerId")

	if err := h.presets.Delete(ctx, models.NormalizePrinterID(printerID)); err != nil {
		if errors.Is(err, store.ErrPresetNotFound) {
			httpkit.WriteErr(w, 404, "PRESET_NOT_FOUND", "preset not found", map[string]any{"printer_id": printerID})
			return
		}
		h.log.Error("preset delete failed", "error", err.Error())
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db delete failed", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

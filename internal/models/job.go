package models

import (
	"strings"
	"time"
)

// modelExts are the mesh formats accepted as job input.
var modelExts = map[string]bool{
	".stl": true,
	".obj": true,
	".3mf": true,
	".amf": true,
}

// SupportedModelExt reports whether ext (with leading dot, any case) is an
// accepted input mesh format.
func SupportedModelExt(ext string) bool {
	return modelExts[strings.ToLower(ext)]
}

// Job is one print-file preparation request. The API creates the row in
// status queued; the worker pipeline owns every transition after that.
type Job struct {
	ID        string `json:"id"`
	ModelRef  string `json:"model_ref"`
	PrinterID string `json:"printer_id"`

	// Optional caller-supplied profile selectors overriding the preset's.
	PrintProfile    string `json:"print_profile,omitempty"`
	MaterialProfile string `json:"material_profile,omitempty"`

	// Allow-listed packaging parameter overrides, merged onto the preset's
	// parameter document at packaging time.
	ParamOverrides map[string]any `json:"param_overrides,omitempty"`

	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Report map[string]any `json:"report,omitempty"`

	// Artifact references, set on success.
	NativeRef  string `json:"native_ref,omitempty"`
	ProjectRef string `json:"project_ref,omitempty"`
	LayersRef  string `json:"layers_ref,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobReport is the structured success summary persisted with the job.
type JobReport struct {
	StrategyUsed   int    `json:"strategy_used"`
	FailedAttempts int    `json:"failed_attempts"`
	LayerCount     int    `json:"layer_count"`
	TargetFormat   string `json:"target_format"`
	NativeBytes    int64  `json:"native_bytes,omitempty"`
	SliceMs        int64  `json:"slice_ms"`
	PackageMs      int64  `json:"package_ms,omitempty"`
	Degraded       bool   `json:"degraded,omitempty"`
}

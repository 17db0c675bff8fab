package models

import (
	"strings"
	"time"
)

// Preset maps a printer identifier to its slicing configuration bundle and
// packaging parameter document. Rows are immutable once published; the worker
// treats them as read-only and caches the referenced objects for the lifetime
// of the process.
type Preset struct {
	PrinterID string `json:"printer_id"`

	// BundleRef points at the slicing configuration bundle object,
	// ParamsRef at the packaging parameter document. Both are
	// "<store>:<path>" references.
	BundleRef string `json:"bundle_ref"`
	ParamsRef string `json:"params_ref"`

	// TargetFormat is the native print-file format to produce (ctb, pws, ...).
	TargetFormat string `json:"target_format"`

	// BundleSHA256, when set, is re-verified against the cached bundle on
	// every resolution.
	BundleSHA256 string `json:"bundle_sha256,omitempty"`

	// Named profile sections inside the bundle.
	PrinterProfile  string `json:"printer_profile,omitempty"`
	PrintProfile    string `json:"print_profile,omitempty"`
	MaterialProfile string `json:"material_profile,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NormalizePrinterID canonicalizes a printer identifier for preset lookup:
// trimmed, lower-cased, spaces to underscores.
func NormalizePrinterID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.ReplaceAll(id, " ", "_")
}

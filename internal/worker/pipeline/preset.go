package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"lamina/internal/models"
	"lamina/internal/pkg/errors"
	"lamina/internal/store"
)

// PresetSource looks up the preset row for a printer. *store.PresetStore is
// the production implementation.
type PresetSource interface {
	Get(ctx context.Context, printerID string) (*models.Preset, error)
}

// ResolvedPreset is a preset row plus the local paths of its two referenced
// objects. The paths point into the shared object cache and must be treated
// as read-only.
type ResolvedPreset struct {
	Preset     *models.Preset
	BundlePath string
	ParamsPath string
}

// PresetResolver maps a printer identifier to its cached configuration
// bundle and packaging parameter document.
type PresetResolver struct {
	presets PresetSource
	cache   *ObjectCache
}

func NewPresetResolver(presets PresetSource, cache *ObjectCache) *PresetResolver {
	return &PresetResolver{presets: presets, cache: cache}
}

// Resolve fetches the preset for printerID and materializes both referenced
// objects locally. Bundle integrity is re-verified on every resolution, not
// only on first download: the cache outlives preset edits made by operators
// directly against the object store.
func (r *PresetResolver) Resolve(ctx context.Context, printerID string) (*ResolvedPreset, error) {
	id := models.NormalizePrinterID(printerID)

	p, err := r.presets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrPresetNotFound) {
			return nil, errors.Newf(errors.KindPresetNotFound, "no preset for printer %q", id)
		}
		return nil, errors.WrapWithCode(err, errors.KindPresetNotFound, "preset.resolve", "preset lookup failed")
	}

	bundleRef, err := models.ParseRef(p.BundleRef)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPresetNotFound, "preset.resolve", "invalid bundle reference")
	}
	paramsRef, err := models.ParseRef(p.ParamsRef)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPresetNotFound, "preset.resolve", "invalid params reference")
	}

	bundlePath, err := r.cache.Get(ctx, bundleRef)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPresetNotFound, "preset.resolve", "bundle fetch failed")
	}
	paramsPath, err := r.cache.Get(ctx, paramsRef)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPresetNotFound, "preset.resolve", "params fetch failed")
	}

	if p.BundleSHA256 != "" {
		sum, err := sha256File(bundlePath)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.KindIntegrityMismatch, "preset.resolve", "bundle hash failed")
		}
		if !strings.EqualFold(sum, p.BundleSHA256) {
			return nil, errors.Newf(errors.KindIntegrityMismatch,
				"bundle %s sha256 %s does not match preset %s", p.BundleRef, sum, p.BundleSHA256)
		}
	}

	return &ResolvedPreset{Preset: p, BundlePath: bundlePath, ParamsPath: paramsPath}, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

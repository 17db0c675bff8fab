package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lamina/internal/pkg/errors"
	"lamina/internal/pkg/logger"
)

// defaultDoneMarker is the completion line the packaging engine prints on a
// successful conversion. Its exit status is not trustworthy; see Package.
const defaultDoneMarker = "Conversion completed"

// encoderByFormat maps a target native format to the engine's encoder
// identifier. Several formats share one encoder.
var encoderByFormat = map[string]string{
	"ctb":    "ctb",
	"ctbv4":  "ctb",
	"cbddlp": "cbddlp",
	"photon": "cbddlp",
	"pws":    "pws",
	"pwmx":   "pws",
	"pw0":    "pws",
}

// requiredParams must be present in the merged document before the engine
// is invoked; failing fast with the key name beats parsing a cryptic engine
// error afterwards. Every supported target format is pixel-based, so the
// display geometry set is always required.
var requiredParams = []string{
	"layer_height_mm",
	"exposure_s",
	"bottom_exposure_s",
	"bottom_layer_count",
	"lift_height_mm",
	"lift_speed_mms",
	"retract_speed_mms",
}

// propertyKeys are applied one by one after conversion. An individual
// property-set failure is logged and never fails the job: partial refinement
// of a valid print file beats discarding it.
var propertyKeys = []string{
	"machine_name",
	"lift_height_mm",
	"lift_speed_mms",
	"retract_speed_mms",
	"bottom_layer_count",
}

// PackagerConfig describes the external packaging engine invocation.
type PackagerConfig struct {
	Command    []string
	Timeout    time.Duration
	DoneMarker string
}

// PackageInputs is everything one conversion needs.
type PackageInputs struct {
	LayerDir     string
	WorkDir      string
	TargetFormat string
	Params       map[string]any
}

// PackageResult describes the produced native artifact.
type PackageResult struct {
	Path       string
	Size       int64
	LayerCount int
	Duration   time.Duration
}

// Packager converts a raster-layer stack into the target native format.
type Packager struct {
	run Runner
	cfg PackagerConfig
	log *logger.Logger
}

func NewPackager(run Runner, cfg PackagerConfig, log *logger.Logger) *Packager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.DoneMarker == "" {
		cfg.DoneMarker = defaultDoneMarker
	}
	return &Packager{run: run, cfg: cfg, log: log.WithComponent("packager")}
}

// Package synthesizes the layer container, runs the conversion and applies
// post-conversion property refinements.
//
// Success is judged by artifact existence, nonzero size and the completion
// marker in the captured log — never by exit status: the engine is known to
// exit nonzero on conversions that in fact succeeded.
func (p *Packager) Package(ctx context.Context, in PackageInputs) (*PackageResult, error) {
	if err := validateParams(in.Params); err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(in.TargetFormat))
	encoder, ok := encoderByFormat[format]
	if !ok {
		return nil, errors.Newf(errors.KindParamsInvalid, "unsupported target format %q", in.TargetFormat)
	}

	start := time.Now()

	container := filepath.Join(in.WorkDir, "layers.sl1")
	layerCount, err := BuildLayerContainer(in.LayerDir, container, in.Params)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPackagingFailed,
			"pipeline.package", "layer container synthesis failed")
	}

	outPath := filepath.Join(in.WorkDir, "print."+format)
	argv := append(append([]string{}, p.cfg.Command...),
		"convert", container, encoder, outPath)

	res, err := p.run.Run(ctx, Invocation{Argv: argv, Timeout: p.cfg.Timeout})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindPackagingFailed,
			"pipeline.package", "packaging engine did not start")
	}
	if res.TimedOut {
		return nil, errors.Newf(errors.KindPackagingFailed,
			"conversion exceeded %s; log tail: %s", p.cfg.Timeout, res.LogTail)
	}

	st, statErr := os.Stat(outPath)
	converted := statErr == nil && st.Size() > 0 && strings.Contains(res.LogTail, p.cfg.DoneMarker)
	if !converted {
		return nil, errors.Newf(errors.KindPackagingFailed,
			"conversion not confirmed (exit=%d, artifact=%v, marker=%v); log tail: %s",
			res.ExitCode, statErr == nil, strings.Contains(res.LogTail, p.cfg.DoneMarker), res.LogTail)
	}

	p.applyProperties(ctx, outPath, in.Params)

	return &PackageResult{
		Path:       outPath,
		Size:       st.Size(),
		LayerCount: layerCount,
		Duration:   time.Since(start),
	}, nil
}

// applyProperties layers per-printer motion/identity metadata onto the
// produced artifact, one property per sub-invocation, best-effort.
func (p *Packager) applyProperties(ctx context.Context, artifact string, params map[string]any) {
	for _, key := range propertyKeys {
		v, ok := params[key]
		if !ok {
			continue
		}
		argv := append(append([]string{}, p.cfg.Command...),
			"set-property", artifact, fmt.Sprintf("%s=%v", key, v))

		res, err := p.run.Run(ctx, Invocation{Argv: argv, Timeout: time.Minute})
		if err != nil || res.ExitCode != 0 {
			p.log.Warn("property refinement failed",
				"property", key,
				"exit_code", res.ExitCode,
			)
		}
	}
}

func validateParams(params map[string]any) error {
	for _, key := range requiredParams {
		if _, ok := params[key]; !ok {
			return errors.Newf(errors.KindParamsInvalid, "missing required parameter %q", key)
		}
	}
	// Display geometry: resolution pair or physical pixel size.
	_, hasX := params["resolution_x"]
	_, hasY := params["resolution_y"]
	_, hasPx := params["pixel_size_um"]
	if !(hasX && hasY) && !hasPx {
		return errors.New(errors.KindParamsInvalid,
			`missing required parameter "resolution_x"/"resolution_y" or "pixel_size_um"`)
	}
	return nil
}

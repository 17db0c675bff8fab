package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lamina/internal/models"
	"lamina/internal/pkg/errors"
	"lamina/internal/pkg/logger"
	"lamina/internal/ports"
)

// maxErrorText bounds the error text persisted with a failed job. The kind
// tag lives at the front, so clipping keeps the head.
const maxErrorText = 4000

// JobSource loads job rows. *store.JobStore is the production
// implementation.
type JobSource interface {
	Get(ctx context.Context, id string) (*models.Job, error)
}

// Config carries everything the pipeline needs that is not a collaborator.
type Config struct {
	// WorkRoot hosts the per-job ephemeral workspaces.
	WorkRoot string
	// CacheDir hosts the process-wide preset object cache.
	CacheDir string
	// Namespace is the store part of recorded artifact references.
	Namespace string

	Slicer   SlicerConfig
	Packager PackagerConfig
}

// Deps are the pipeline collaborators.
type Deps struct {
	Jobs    JobSource
	Ledger  Ledger
	Presets PresetSource
	Storage ports.StorageProvider
	Runner  Runner
	Log     *logger.Logger
	Config  Config
}

// Result is the per-job outcome handed back to the worker loop. Success is
// true for both success variants; ErrorKind is set only on failure.
type Result struct {
	JobID     string
	Success   bool
	Status    models.Status
	ErrorKind errors.Code
	Report    *models.JobReport
}

// Pipeline turns one queued job into a printable artifact set: resolve the
// printer preset, slice the model, discover what the engine produced, package
// it into the target native format and upload everything, recording every
// transition in the job ledger.
type Pipeline struct {
	jobs     JobSource
	ledger   *safeLedger
	resolver *PresetResolver
	slicer   *Slicer
	packager *Packager
	uploader *Uploader
	storage  ports.StorageProvider
	cfg      Config
	log      *logger.Logger
}

func New(d Deps) *Pipeline {
	cache := NewObjectCache(d.Config.CacheDir, d.Storage)
	return &Pipeline{
		jobs:     d.Jobs,
		ledger:   newSafeLedger(d.Ledger, d.Log),
		resolver: NewPresetResolver(d.Presets, cache),
		slicer:   NewSlicer(d.Runner, d.Config.Slicer, d.Log),
		packager: NewPackager(d.Runner, d.Config.Packager, d.Log),
		uploader: NewUploader(d.Storage, d.Config.Namespace, d.Log),
		storage:  d.Storage,
		cfg:      d.Config,
		log:      d.Log.WithComponent("pipeline"),
	}
}

// Process runs one job end to end. A job handed to Process always leaves the
// processing status: any error, panic included, lands it in failed with a
// kind-tagged error text.
func (p *Pipeline) Process(ctx context.Context, jobID string) (res Result) {
	log := p.log.WithJobID(jobID)

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		log.Error("job load failed", "error", err.Error())
		return Result{JobID: jobID, Status: models.StatusFailed, ErrorKind: errors.CodeInternal}
	}
	log = log.WithPrinterID(job.PrinterID)

	p.ledger.markProcessing(ctx, jobID)

	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf(errors.CodeInternal, "panic: %v", r)
			res = p.fail(ctx, log, jobID, err)
		}
	}()

	ws, err := NewWorkspace(p.cfg.WorkRoot, jobID)
	if err != nil {
		return p.fail(ctx, log, jobID, errors.Wrap(err, "pipeline.process", "workspace setup failed"))
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("workspace cleanup failed", "root", ws.Root, "error", err.Error())
		}
	}()

	modelPath, err := p.fetchModel(ctx, job, ws)
	if err != nil {
		return p.fail(ctx, log, jobID, err)
	}

	preset, err := p.resolver.Resolve(ctx, job.PrinterID)
	if err != nil {
		return p.fail(ctx, log, jobID, err)
	}

	outcome, err := p.slicer.Slice(ctx, sliceInputs(job, preset, ws, modelPath))
	if err != nil {
		return p.fail(ctx, log, jobID, err)
	}
	log.Info("slicing done",
		"strategy", outcome.StrategyUsed,
		"failed_attempts", outcome.FailedAttempts,
		"project_only", outcome.ProjectOnly,
		"duration_ms", outcome.Duration.Milliseconds(),
	)

	params, err := p.mergedParams(preset, job)
	if err != nil {
		return p.fail(ctx, log, jobID, err)
	}

	report, refs, err := p.produce(ctx, log, job, preset, ws, outcome, params)
	if err != nil {
		return p.fail(ctx, log, jobID, err)
	}

	status := models.StatusSucceeded
	if report.Degraded {
		status = models.StatusSucceededDegraded
	}
	p.ledger.markSucceeded(ctx, jobID, status, report, refs.native, refs.project, refs.layers)
	log.Info("job done", "status", string(status), "layer_count", report.LayerCount)
	return Result{JobID: jobID, Success: true, Status: status, Report: report}
}

// artifactRefs are the recorded artifact references, empty where the class
// was not produced.
type artifactRefs struct {
	native  string
	project string
	layers  string
}

// produce inspects the engine output tree and takes one of four paths:
// package a raster stack, pass a matching native artifact straight through,
// unpack a layer archive and package it, or record the bare project export
// as a degraded success.
func (p *Pipeline) produce(ctx context.Context, log *logger.Logger, job *models.Job, preset *ResolvedPreset, ws *Workspace, outcome *SliceOutcome, params map[string]any) (*models.JobReport, artifactRefs, error) {
	report := &models.JobReport{
		StrategyUsed:   outcome.StrategyUsed,
		FailedAttempts: outcome.FailedAttempts,
		TargetFormat:   preset.Preset.TargetFormat,
		SliceMs:        outcome.Duration.Milliseconds(),
	}
	var refs artifactRefs

	layerDir, hasLayers := FindLayerDir(ws.OutputDir())

	if !hasLayers {
		if native, ok := FindNativeArtifact(ws.OutputDir()); ok {
			target := strings.ToLower(strings.TrimSpace(preset.Preset.TargetFormat))
			if FormatOf(native) == target {
				// The engine already emitted the requested format.
				return p.passThrough(ctx, log, job, ws, native, report, refs)
			}
			if IsLayerArchive(native) {
				unpacked := filepath.Join(ws.ConvertDir(), "unpacked")
				n, err := UnpackLayerArchive(native, unpacked)
				if err != nil || n == 0 {
					return nil, refs, errors.Newf(errors.KindNoOutputFound,
						"layer archive %s yielded no rasters", filepath.Base(native))
				}
				layerDir, hasLayers = unpacked, true
			}
		}
	}

	if !hasLayers {
		if fileExists(ws.ProjectPath()) {
			ref, err := p.uploader.Upload(ctx, job.ID, artifactProject, ws.ProjectPath())
			if err != nil {
				return nil, refs, err
			}
			refs.project = ref.String()
			report.Degraded = true
			return report, refs, nil
		}
		return nil, refs, errors.New(errors.KindNoOutputFound,
			"engine produced neither raster layers, a native artifact nor a project export")
	}

	pkg, err := p.packager.Package(ctx, PackageInputs{
		LayerDir:     layerDir,
		WorkDir:      ws.ConvertDir(),
		TargetFormat: preset.Preset.TargetFormat,
		Params:       params,
	})
	if err != nil {
		return nil, refs, err
	}
	report.LayerCount = pkg.LayerCount
	report.NativeBytes = pkg.Size
	report.PackageMs = pkg.Duration.Milliseconds()

	nativeRef, err := p.uploader.Upload(ctx, job.ID, artifactNative, pkg.Path)
	if err != nil {
		return nil, refs, err
	}
	refs.native = nativeRef.String()

	// Secondary artifacts are best-effort: the print file is already safe.
	layersZip := filepath.Join(ws.ConvertDir(), "layers.zip")
	if err := ZipDir(layerDir, layersZip); err != nil {
		log.Warn("layer archive export failed", "error", err.Error())
	} else if ref, err := p.uploader.Upload(ctx, job.ID, artifactLayers, layersZip); err != nil {
		log.Warn("layer archive upload failed", "error", err.Error())
	} else {
		refs.layers = ref.String()
	}

	if fileExists(ws.ProjectPath()) {
		if ref, err := p.uploader.Upload(ctx, job.ID, artifactProject, ws.ProjectPath()); err != nil {
			log.Warn("project upload failed", "error", err.Error())
		} else {
			refs.project = ref.String()
		}
	}

	return report, refs, nil
}

// passThrough uploads an engine-emitted native artifact without a packaging
// pass.
func (p *Pipeline) passThrough(ctx context.Context, log *logger.Logger, job *models.Job, ws *Workspace, native string, report *models.JobReport, refs artifactRefs) (*models.JobReport, artifactRefs, error) {
	st, err := os.Stat(native)
	if err != nil {
		return nil, refs, errors.WrapWithCode(err, errors.KindNoOutputFound,
			"pipeline.produce", "native artifact vanished")
	}
	report.NativeBytes = st.Size()

	ref, err := p.uploader.Upload(ctx, job.ID, artifactNative, native)
	if err != nil {
		return nil, refs, err
	}
	refs.native = ref.String()

	if fileExists(ws.ProjectPath()) {
		if pref, err := p.uploader.Upload(ctx, job.ID, artifactProject, ws.ProjectPath()); err != nil {
			log.Warn("project upload failed", "error", err.Error())
		} else {
			refs.project = pref.String()
		}
	}
	return report, refs, nil
}

// fetchModel validates the job's model reference and downloads it into the
// workspace.
func (p *Pipeline) fetchModel(ctx context.Context, job *models.Job, ws *Workspace) (string, error) {
	ref, err := models.ParseRef(job.ModelRef)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.KindBadInputReference,
			"pipeline.fetch", "invalid model reference")
	}

	ext := strings.ToLower(filepath.Ext(ref.Path))
	if !models.SupportedModelExt(ext) {
		return "", errors.Newf(errors.KindUnsupportedModelFormat,
			"model format %q is not supported", ext)
	}

	dst := filepath.Join(ws.InputDir(), "model"+ext)
	if err := p.download(ctx, ref, dst); err != nil {
		return "", errors.WrapWithCode(err, errors.KindBadInputReference,
			"pipeline.fetch", fmt.Sprintf("model %s could not be fetched", job.ModelRef))
	}
	return dst, nil
}

func (p *Pipeline) download(ctx context.Context, ref models.Ref, dst string) error {
	rc, _, _, err := p.storage.GetObject(ctx, ref.Key())
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return out.Close()
}

// mergedParams loads the preset's parameter document and applies the job's
// allow-listed overrides.
func (p *Pipeline) mergedParams(preset *ResolvedPreset, job *models.Job) (map[string]any, error) {
	base, err := LoadParams(preset.ParamsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.KindParamsInvalid,
			"pipeline.params", "parameter document unreadable")
	}
	return MergeParams(base, job.ParamOverrides), nil
}

// sliceInputs composes the slicing stage inputs; job-level profile selectors
// override the preset's.
func sliceInputs(job *models.Job, preset *ResolvedPreset, ws *Workspace, modelPath string) SliceInputs {
	in := SliceInputs{
		ModelPath:       modelPath,
		BundlePath:      preset.BundlePath,
		OutDir:          ws.OutputDir(),
		SlicesDir:       ws.SlicesDir(),
		ProjectPath:     ws.ProjectPath(),
		PrinterProfile:  preset.Preset.PrinterProfile,
		PrintProfile:    preset.Preset.PrintProfile,
		MaterialProfile: preset.Preset.MaterialProfile,
	}
	if job.PrintProfile != "" {
		in.PrintProfile = job.PrintProfile
	}
	if job.MaterialProfile != "" {
		in.MaterialProfile = job.MaterialProfile
	}
	return in
}

// fail records the kind-tagged error text and returns the failed result.
func (p *Pipeline) fail(ctx context.Context, log *logger.Logger, jobID string, err error) Result {
	kind := errors.GetCode(err)
	text := clip(fmt.Sprintf("%s: %s", kind, err.Error()), maxErrorText)
	log.Error("job failed", "kind", string(kind), "error", err.Error())
	p.ledger.markFailed(ctx, jobID, text)
	return Result{JobID: jobID, Status: models.StatusFailed, ErrorKind: kind}
}

// clip keeps the head of s, unlike truncate which keeps log tails.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

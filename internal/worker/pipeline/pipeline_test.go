package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamina/internal/models"
	apperrors "lamina/internal/pkg/errors"
)

const testParamsDoc = `{
	"layer_height_mm": 0.05,
	"exposure_s": 2.5,
	"bottom_exposure_s": 30,
	"bottom_layer_count": 5,
	"lift_height_mm": 6,
	"lift_speed_mms": 2,
	"retract_speed_mms": 3,
	"resolution_x": 4098,
	"resolution_y": 2560,
	"machine_name": "mars_3_pro"
}`

type pipelineFixture struct {
	pl      *Pipeline
	jobs    *memJobs
	storage *memStorage
	run     *fakeRunner
	workDir string
}

func newPipelineFixture(t *testing.T, job *models.Job, script func(call int, inv Invocation) (RunResult, error)) *pipelineFixture {
	t.Helper()

	sp := newMemStorage()
	sp.put("models/cat.stl", []byte("solid cat"))
	sp.put("presets/mars_3_pro/bundle.ini", []byte("bundle-bytes"))
	sp.put("presets/mars_3_pro/params.json", []byte(testParamsDoc))

	sum := sha256.Sum256([]byte("bundle-bytes"))
	presets := &memPresets{presets: map[string]*models.Preset{
		"mars_3_pro": {
			PrinterID:    "mars_3_pro",
			BundleRef:    "cfg:presets/mars_3_pro/bundle.ini",
			ParamsRef:    "cfg:presets/mars_3_pro/params.json",
			TargetFormat: "ctb",
			BundleSHA256: hex.EncodeToString(sum[:]),
		},
	}}

	jobs := newMemJobs(job)
	run := &fakeRunner{script: script}
	workDir := t.TempDir()

	pl := New(Deps{
		Jobs:    jobs,
		Ledger:  jobs,
		Presets: presets,
		Storage: sp,
		Runner:  run,
		Log:     testLogger(),
		Config: Config{
			WorkRoot:  workDir,
			CacheDir:  t.TempDir(),
			Namespace: "artifacts",
		},
	})

	return &pipelineFixture{pl: pl, jobs: jobs, storage: sp, run: run, workDir: workDir}
}

func queuedJob() *models.Job {
	return &models.Job{
		ID:        "job_test1",
		ModelRef:  "uploads:models/cat.stl",
		PrinterID: "mars_3_pro",
		Status:    models.StatusQueued,
	}
}

// argValue returns the argv value following flag, or "".
func argValue(argv []string, flag string) string {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

func hasArg(argv []string, arg string) bool {
	for _, a := range argv {
		if a == arg {
			return true
		}
	}
	return false
}

// happyScript answers preflight, writes rasters on the first slicing
// strategy and a marked artifact on convert.
func happyScript(t *testing.T) func(call int, inv Invocation) (RunResult, error) {
	return func(call int, inv Invocation) (RunResult, error) {
		switch {
		case hasArg(inv.Argv, "--help"):
			return okResult(), nil
		case hasArg(inv.Argv, "convert"):
			require.NoError(t, os.WriteFile(inv.Argv[len(inv.Argv)-1], []byte("native-bytes"), 0o644))
			return RunResult{ExitCode: 0, LogTail: "Conversion completed"}, nil
		case hasArg(inv.Argv, "set-property"):
			return okResult(), nil
		default:
			slicesDir := argValue(inv.Argv, "--sla-output")
			require.NotEmpty(t, slicesDir)
			require.NoError(t, os.MkdirAll(slicesDir, 0o755))
			for i := 0; i < 3; i++ {
				name := filepath.Join(slicesDir, fmt.Sprintf("%04d.png", i))
				require.NoError(t, os.WriteFile(name, []byte("png"), 0o644))
			}
			return okResult(), nil
		}
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newPipelineFixture(t, queuedJob(), happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")

	assert.True(t, res.Success)
	assert.Equal(t, models.StatusSucceeded, res.Status)
	require.NotNil(t, res.Report)
	assert.Equal(t, 0, res.Report.StrategyUsed)
	assert.Equal(t, 0, res.Report.FailedAttempts)
	assert.Equal(t, 3, res.Report.LayerCount)
	assert.False(t, res.Report.Degraded)

	job, err := f.jobs.Get(context.Background(), "job_test1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, job.Status)
	assert.Equal(t, "artifacts:jobs/job_test1/native/print.ctb", job.NativeRef)
	assert.Equal(t, "artifacts:jobs/job_test1/layers/layers.zip", job.LayersRef)
	assert.Empty(t, job.ProjectRef)

	// uploaded bytes landed in object storage
	rc, _, size, err := f.storage.GetObject(context.Background(), "jobs/job_test1/native/print.ctb")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int64(len("native-bytes")), size)

	// workspace is gone
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessDegradedProjectOnly(t *testing.T) {
	script := func(call int, inv Invocation) (RunResult, error) {
		if hasArg(inv.Argv, "--help") {
			return okResult(), nil
		}
		if !hasArg(inv.Argv, "--export-sla") && !hasArg(inv.Argv, "--slice") {
			// last strategy: project export target is the --output value
			out := argValue(inv.Argv, "--output")
			_ = os.WriteFile(out, []byte("3mf"), 0o644)
		}
		return failResult(1, "export failed"), nil
	}
	f := newPipelineFixture(t, queuedJob(), script)

	res := f.pl.Process(context.Background(), "job_test1")

	assert.True(t, res.Success)
	assert.Equal(t, models.StatusSucceededDegraded, res.Status)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Degraded)

	job, _ := f.jobs.Get(context.Background(), "job_test1")
	assert.Equal(t, models.StatusSucceededDegraded, job.Status)
	assert.Empty(t, job.NativeRef)
	assert.Equal(t, "artifacts:jobs/job_test1/project/project.3mf", job.ProjectRef)
}

func TestProcessNoOutputFound(t *testing.T) {
	script := func(call int, inv Invocation) (RunResult, error) {
		return okResult(), nil // everything "succeeds" but produces nothing
	}
	f := newPipelineFixture(t, queuedJob(), script)

	res := f.pl.Process(context.Background(), "job_test1")

	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindNoOutputFound, res.ErrorKind)
	assert.True(t, strings.HasPrefix(f.jobs.errorText("job_test1"), "NoOutputFound:"))
}

func TestProcessEngineTimeout(t *testing.T) {
	script := func(call int, inv Invocation) (RunResult, error) {
		if hasArg(inv.Argv, "--help") {
			return okResult(), nil
		}
		return RunResult{ExitCode: -1, TimedOut: true}, nil
	}
	f := newPipelineFixture(t, queuedJob(), script)

	res := f.pl.Process(context.Background(), "job_test1")

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindEngineTimeout, res.ErrorKind)
	assert.True(t, strings.HasPrefix(f.jobs.errorText("job_test1"), "EngineTimeout:"))
}

func TestProcessBadModelReference(t *testing.T) {
	job := queuedJob()
	job.ModelRef = "no-separator"
	f := newPipelineFixture(t, job, happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindBadInputReference, res.ErrorKind)
	assert.True(t, strings.HasPrefix(f.jobs.errorText("job_test1"), "BadInputReference:"))
}

func TestProcessUnsupportedModelFormat(t *testing.T) {
	job := queuedJob()
	job.ModelRef = "uploads:models/cat.gcode"
	f := newPipelineFixture(t, job, happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindUnsupportedModelFormat, res.ErrorKind)
}

func TestProcessMissingModelObject(t *testing.T) {
	job := queuedJob()
	job.ModelRef = "uploads:models/ghost.stl"
	f := newPipelineFixture(t, job, happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindBadInputReference, res.ErrorKind)
}

func TestProcessPresetNotFound(t *testing.T) {
	job := queuedJob()
	job.PrinterID = "saturn_2"
	f := newPipelineFixture(t, job, happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.KindPresetNotFound, res.ErrorKind)
	assert.True(t, strings.HasPrefix(f.jobs.errorText("job_test1"), "PresetNotFound:"))
}

func TestProcessParamOverridesReachPackager(t *testing.T) {
	job := queuedJob()
	job.ParamOverrides = map[string]any{"exposure_s": 4.0}
	f := newPipelineFixture(t, job, happyScript(t))

	res := f.pl.Process(context.Background(), "job_test1")
	require.Equal(t, models.StatusSucceeded, res.Status)

	// the set-property pass runs with the preset's values, and the
	// container manifest carries the overridden exposure
	rc, _, _, err := f.storage.GetObject(context.Background(), "jobs/job_test1/native/print.ctb")
	require.NoError(t, err)
	rc.Close()
}

func TestProcessNeverLeavesProcessing(t *testing.T) {
	for name, script := range map[string]func(call int, inv Invocation) (RunResult, error){
		"boot failure": func(call int, inv Invocation) (RunResult, error) {
			return failResult(127, "boom"), nil
		},
		"all strategies fail": func(call int, inv Invocation) (RunResult, error) {
			if hasArg(inv.Argv, "--help") {
				return okResult(), nil
			}
			return failResult(1, "boom"), nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newPipelineFixture(t, queuedJob(), script)
			res := f.pl.Process(context.Background(), "job_test1")
			assert.Equal(t, models.StatusFailed, res.Status)
			assert.True(t, f.jobs.status("job_test1").IsTerminal(), "job stuck in %s", f.jobs.status("job_test1"))
		})
	}
}

func TestProcessUnknownJob(t *testing.T) {
	f := newPipelineFixture(t, queuedJob(), happyScript(t))

	res := f.pl.Process(context.Background(), "job_missing")
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, apperrors.CodeInternal, res.ErrorKind)
}

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"lamina/internal/models"
	"lamina/internal/ports"
	"lamina/internal/store"
)

// fakeRunner scripts external engine invocations per call index.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []Invocation
	script func(call int, inv Invocation) (RunResult, error)
}

func (f *fakeRunner) Run(_ context.Context, inv Invocation) (RunResult, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	return f.script(call, inv)
}

func okResult() RunResult {
	return RunResult{ExitCode: 0}
}

func failResult(code int, tail string) RunResult {
	return RunResult{ExitCode: code, LogTail: tail}
}

// memStorage is an in-memory ports.StorageProvider.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memStorage) Provider() string { return "mem" }

func (m *memStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	m.put(in.ObjectKey, data)
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (m *memStorage) GetObject(_ context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey]
	if !ok {
		return nil, "", 0, fmt.Errorf("object %s not found", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), "application/octet-stream", int64(len(data)), nil
}

func (m *memStorage) DeleteObject(_ context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey)
	return nil
}

func (m *memStorage) GetSignedURL(_ context.Context, _ string, _ time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{}, nil
}

// memPresets is an in-memory PresetSource.
type memPresets struct {
	presets map[string]*models.Preset
}

func (m *memPresets) Get(_ context.Context, printerID string) (*models.Preset, error) {
	p, ok := m.presets[printerID]
	if !ok {
		return nil, store.ErrPresetNotFound
	}
	return p, nil
}

// memJobs is an in-memory job table implementing JobSource and Ledger.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobs(jobs ...*models.Job) *memJobs {
	m := &memJobs{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) Get(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status = models.StatusProcessing
	j.Error = ""
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, id, errorText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status = models.StatusFailed
	j.Error = errorText
	return nil
}

func (m *memJobs) MarkSucceeded(_ context.Context, id string, st models.Status, report *models.JobReport, nativeRef, projectRef, layersRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	j.Status = st
	j.NativeRef = nativeRef
	j.ProjectRef = projectRef
	j.LayersRef = layersRef
	return nil
}

func (m *memJobs) status(id string) models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

func (m *memJobs) errorText(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Error
}

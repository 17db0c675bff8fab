package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lamina/internal/pkg/errors"
	"lamina/internal/ports"
)

// flakyStorage fails the first n PutObject calls.
type flakyStorage struct {
	*memStorage
	failures int
	puts     int
}

func (f *flakyStorage) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	f.puts++
	if f.puts <= f.failures {
		return ports.PutObjectOutput{}, errors.New("connection reset")
	}
	return f.memStorage.PutObject(ctx, in)
}

func uploadFixtureFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "print.ctb")
	require.NoError(t, os.WriteFile(path, []byte("native"), 0o644))
	return path
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	sp := &flakyStorage{memStorage: newMemStorage(), failures: 2}
	u := NewUploader(sp, "artifacts", testLogger())

	ref, err := u.Upload(context.Background(), "job_1", artifactNative, uploadFixtureFile(t))
	require.NoError(t, err)
	assert.Equal(t, "artifacts:jobs/job_1/native/print.ctb", ref.String())
	assert.Equal(t, 3, sp.puts)
}

func TestUploadGivesUpAfterAttempts(t *testing.T) {
	sp := &flakyStorage{memStorage: newMemStorage(), failures: 10}
	u := NewUploader(sp, "artifacts", testLogger())

	_, err := u.Upload(context.Background(), "job_1", artifactNative, uploadFixtureFile(t))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUploadFailed, apperrors.GetCode(err))
	assert.Equal(t, uploadAttempts, sp.puts)
}

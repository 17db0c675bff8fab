package pipeline

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"lamina/internal/models"
	"lamina/internal/pkg/errors"
	"lamina/internal/pkg/logger"
	"lamina/internal/ports"
)

const (
	uploadAttempts  = 3
	uploadBaseDelay = 500 * time.Millisecond
)

// Artifact classes, used as path segments in outbound object keys.
const (
	artifactNative  = "native"
	artifactProject = "project"
	artifactLayers  = "layers"
)

// Uploader writes produced artifacts to object storage with bounded
// exponential backoff. namespace becomes the store part of recorded
// references.
type Uploader struct {
	sp        ports.StorageProvider
	namespace string
	log       *logger.Logger
}

func NewUploader(sp ports.StorageProvider, namespace string, log *logger.Logger) *Uploader {
	return &Uploader{sp: sp, namespace: namespace, log: log.WithComponent("uploader")}
}

// Upload stores the local file under a job-id-prefixed key for its artifact
// class and returns the recorded reference.
func (u *Uploader) Upload(ctx context.Context, jobID, class, path string) (models.Ref, error) {
	key := fmt.Sprintf("jobs/%s/%s/%s", sanitizePathPart(jobID), class, filepath.Base(path))
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var lastErr error
	for attempt := 0; attempt < uploadAttempts; attempt++ {
		if attempt > 0 {
			delay := uploadBaseDelay << (attempt - 1)
			u.log.Warn("retrying upload",
				"key", key,
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.Ref{}, errors.WrapWithCode(ctx.Err(), errors.KindUploadFailed,
					"pipeline.upload", "upload canceled")
			}
		}

		storedKey, err := u.putFile(ctx, key, contentType, path)
		if err == nil {
			return models.Ref{Store: u.namespace, Path: storedKey}, nil
		}
		lastErr = err
	}

	return models.Ref{}, errors.WrapWithCode(lastErr, errors.KindUploadFailed,
		"pipeline.upload", fmt.Sprintf("upload of %s failed after %d attempts", key, uploadAttempts))
}

func (u *Uploader) putFile(ctx context.Context, key, contentType, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	out, err := u.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", err
	}
	return out.ObjectKey, nil
}

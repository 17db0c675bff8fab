package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lamina/internal/models"
	"lamina/internal/ports"
)

// ObjectCache downloads preset objects once per worker process and serves
// them from disk afterwards, keyed by a filesystem-safe encoding of the
// object reference. Entries are never invalidated; a changed object path is
// a new key. Concurrent population of the same key is safe because the
// write is idempotent (same reference, same bytes) and finished atomically
// via rename.
type ObjectCache struct {
	dir string
	sp  ports.StorageProvider
}

func NewObjectCache(dir string, sp ports.StorageProvider) *ObjectCache {
	return &ObjectCache{dir: dir, sp: sp}
}

// Get returns the local path for ref, downloading it on first use.
func (c *ObjectCache) Get(ctx context.Context, ref models.Ref) (string, error) {
	dst := filepath.Join(c.dir, cacheKey(ref))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	rc, _, _, err := c.sp.GetObject(ctx, ref.Key())
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(c.dir, ".dl-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

// cacheKey encodes an object reference as a single safe filename: the
// sanitized base name for debuggability plus a hash of the full reference
// for uniqueness.
func cacheKey(ref models.Ref) string {
	sum := sha256.Sum256([]byte(ref.String()))
	base := sanitizePathPart(filepath.Base(ref.Path))
	return hex.EncodeToString(sum[:8]) + "-" + base
}

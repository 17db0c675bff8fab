package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// rasterExt is the layer-image format every supported engine build emits.
const rasterExt = ".png"

// conventionalLayerDirs are checked first, directly under the output root.
// Engine builds differ in which (if any) they use.
var conventionalLayerDirs = []string{"slices", "sla", "layers"}

// nativeExts is the set of printer-native print-file extensions the engine
// may emit directly.
var nativeExts = map[string]bool{
	".ctb":    true,
	".cbddlp": true,
	".photon": true,
	".pws":    true,
	".pwmx":   true,
	".sl1":    true,
	".sl1s":   true,
}

// layerArchiveExts are native formats that are really zip archives of
// raster layers and can be unpacked into a raster source.
var layerArchiveExts = map[string]bool{
	".sl1":  true,
	".sl1s": true,
	".zip":  true,
}

// FindLayerDir locates the directory holding the raster-layer stack under
// root. Conventionally named subdirectories win the fast path; otherwise the
// whole tree is walked and the directory with the strictly greatest raster
// count is chosen (ties keep the first in traversal order). The second
// return is false when no directory anywhere holds a single raster image —
// that is a "not found", not an error.
func FindLayerDir(root string) (string, bool) {
	for _, name := range conventionalLayerDirs {
		dir := filepath.Join(root, name)
		if countRasters(dir) > 0 {
			return dir, true
		}
	}

	best := ""
	bestCount := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if n := countRasters(path); n > bestCount {
			best, bestCount = path, n
		}
		return nil
	})

	if bestCount == 0 {
		return "", false
	}
	return best, true
}

// countRasters counts raster images directly inside dir (non-recursive).
func countRasters(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), rasterExt) {
			n++
		}
	}
	return n
}

// FindNativeArtifact locates a printer-native file anywhere under root.
// When several match, the most recently modified wins (ties keep the first
// in traversal order). Some engine configurations emit a native file
// directly, short-circuiting the packaging stage.
func FindNativeArtifact(root string) (string, bool) {
	best := ""
	var bestMod time.Time
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !nativeExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	return best, best != ""
}

// FormatOf returns the native-format identifier of a file path ("ctb",
// "sl1", ...).
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// IsLayerArchive reports whether the artifact is an unpackable raster
// archive rather than an opaque binary format.
func IsLayerArchive(path string) bool {
	return layerArchiveExts[strings.ToLower(filepath.Ext(path))]
}

// UnpackLayerArchive extracts the raster images of a layer archive into
// dstDir (flattened) and returns how many were extracted.
func UnpackLayerArchive(src, dstDir string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("open layer archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, err
	}

	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), rasterExt) {
			continue
		}
		name := filepath.Base(f.Name)
		// Base() already strips any traversal components.
		if err := extractZipFile(f, filepath.Join(dstDir, name)); err != nil {
			return n, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}

func extractZipFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

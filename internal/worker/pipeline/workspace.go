package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the ephemeral directory tree owned by one job execution:
// downloaded model, engine output tree and conversion intermediates all live
// under Root. It is removed recursively on every exit path.
type Workspace struct {
	Root string
}

// NewWorkspace creates the job-scoped tree under baseDir.
func NewWorkspace(baseDir, jobID string) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	root, err := os.MkdirTemp(baseDir, "job-"+sanitizePathPart(jobID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	ws := &Workspace{Root: root}
	for _, d := range []string{ws.InputDir(), ws.OutputDir(), ws.ConvertDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace subdir: %w", err)
		}
	}
	return ws, nil
}

// InputDir holds the downloaded model.
func (w *Workspace) InputDir() string { return filepath.Join(w.Root, "input") }

// OutputDir is handed to the slicing engine as its output tree.
func (w *Workspace) OutputDir() string { return filepath.Join(w.Root, "output") }

// ConvertDir holds packaging intermediates (layer container, native file).
func (w *Workspace) ConvertDir() string { return filepath.Join(w.Root, "convert") }

// SlicesDir is the explicitly requested layer-image directory. The engine
// may or may not honor it; discovery never assumes it did.
func (w *Workspace) SlicesDir() string { return filepath.Join(w.OutputDir(), "slices") }

// ProjectPath is the last-resort project export target.
func (w *Workspace) ProjectPath() string { return filepath.Join(w.OutputDir(), "project.3mf") }

// Close removes the whole tree.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Root)
}

func sanitizePathPart(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

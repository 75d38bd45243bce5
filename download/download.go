// Package download manages the on-disk side of downloads: a private cache directory with one working directory per
// task, and a public output directory that finished artifacts are relocated into.
package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

type workspaceConfig struct {
	cacheDir  string
	outputDir string
	logger    *zap.Logger
}

type WorkspaceOption func(*workspaceConfig)

func WithCacheDir(dir string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.cacheDir = dir
	}
}

func WithOutputDir(dir string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.outputDir = dir
	}
}

func WithLogger(logger *zap.Logger) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.logger = logger
	}
}

type Workspace struct {
	config workspaceConfig
	log    *zap.SugaredLogger
}

// NewWorkspace creates the cache directory if needed. The output directory is created lazily by Relocate.
func NewWorkspace(opts ...WorkspaceOption) (*Workspace, error) {
	config := workspaceConfig{
		cacheDir:  filepath.Join(os.TempDir(), "video-downloader"),
		outputDir: ".",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := os.MkdirAll(config.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Workspace{
		config: config,
		log:    config.logger.Named("workspace").Sugar(),
	}, nil
}

func (w *Workspace) CacheDir() string {
	return w.config.cacheDir
}

func (w *Workspace) OutputDir() string {
	return w.config.outputDir
}

// TaskDir returns the working directory of a task, without creating it.
func (w *Workspace) TaskDir(taskID string) string {
	return filepath.Join(w.config.cacheDir, taskID)
}

// CreateTaskDir ensures the working directory of a task exists.
func (w *Workspace) CreateTaskDir(taskID string) (string, error) {
	dir := w.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create task dir: %w", err)
	}
	return dir, nil
}

// RemoveTaskDir deletes the working directory of a task and everything in it.
func (w *Workspace) RemoveTaskDir(taskID string) error {
	dir := w.TaskDir(taskID)
	if err := os.RemoveAll(dir); err != nil {
		w.log.Warnw("failed to clean up task dir", "path", dir, "error", err)
		return err
	}
	return nil
}

// PruneTaskDir removes the working directory of a task only if it is empty.
func (w *Workspace) PruneTaskDir(taskID string) {
	_ = os.Remove(w.TaskDir(taskID))
}

// InTaskDir reports whether path lies inside the working directory of a task.
func (w *Workspace) InTaskDir(taskID string, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(w.TaskDir(taskID), path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// TaskDirSize sums the size of the regular files in a task's working directory whose names start with prefix.
func (w *Workspace) TaskDirSize(taskID string, prefix string) int64 {
	entries, err := os.ReadDir(w.TaskDir(taskID))
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}

package download

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const maxRelocateSuffix = 10000

var (
	ErrSourceMissing = errors.New("source file missing")
	ErrNoFreeName    = errors.New("no free file name")
)

// Relocate moves a finished artifact into the output directory. See Relocate.
func (w *Workspace) Relocate(src string) (string, error) {
	dest, err := Relocate(src, w.config.outputDir)
	if err != nil {
		return "", err
	}
	w.log.Debugw("relocated artifact", "from", src, "to", dest)
	return dest, nil
}

// Restore moves a relocated artifact back into the working directory of a task, returning its new path.
func (w *Workspace) Restore(path string, taskID string) (string, error) {
	dest, err := Relocate(path, w.TaskDir(taskID))
	if err != nil {
		return "", err
	}
	w.log.Debugw("restored artifact", "from", path, "to", dest)
	return dest, nil
}

// Relocate moves src into destDir, creating destDir if necessary, and returns the new path. An existing file is never
// overwritten: "name.ext" becomes "name_1.ext", "name_2.ext", ... until a free name is found. The name is reserved by
// exclusive creation before anything is moved, so concurrent calls never pick the same destination. The move is a
// rename where possible, falling back to copy and delete (e.g. across file systems). If src does not exist,
// ErrSourceMissing is returned.
func Relocate(src string, destDir string) (string, error) {
	if info, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, src)
	} else if err != nil {
		return "", err
	} else if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", src)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	dest, reserved, err := reserveName(destDir, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if err := move(src, dest, reserved); err != nil {
		return "", err
	}
	return dest, nil
}

// CandidateName gives the n-th name tried for a file: the name itself for n == 0, otherwise with "_n" inserted before
// the extension.
func CandidateName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func reserveName(dir string, name string) (string, *os.File, error) {
	for n := 0; n < maxRelocateSuffix; n++ {
		path := filepath.Join(dir, CandidateName(name, n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		} else if err != nil {
			return "", nil, fmt.Errorf("failed to reserve %s: %w", path, err)
		}
		return path, f, nil
	}
	return "", nil, fmt.Errorf("%w for %s in %s", ErrNoFreeName, name, dir)
}

// move replaces the reserved (empty) destination with src.
func move(src string, dest string, reserved *os.File) error {
	if err := os.Rename(src, dest); err == nil {
		return reserved.Close()
	}

	var result error
	if err := copyInto(reserved, src); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to copy: %w", err))
	}
	if err := reserved.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		if err := os.Remove(dest); err != nil {
			result = multierror.Append(result, err)
		}
		return result
	}
	// The copy is complete; a leftover source only wastes cache space
	_ = os.Remove(src)
	return nil
}

func copyInto(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(dst, in); err != nil {
		return err
	}
	return dst.Sync()
}

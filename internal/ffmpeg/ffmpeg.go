// Package ffmpeg adapts the external ffmpeg tool as a Muxer.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const DefaultPath = "ffmpeg"

var (
	ErrMissingInput = errors.New("missing mux input")
)

type Muxer struct {
	// Path to the ffmpeg executable, DefaultPath if empty.
	Path   string
	Logger *zap.Logger
}

// Args builds the ffmpeg arguments to combine both streams without re-encoding.
func Args(videoPath, audioPath, outputPath string) []string {
	return []string{"-y", "-i", videoPath, "-i", audioPath, "-c", "copy", "-shortest", outputPath}
}

func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	for _, p := range []string{videoPath, audioPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrMissingInput, err)
		}
	}

	path := m.Path
	if path == "" {
		path = DefaultPath
	}
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, path, Args(videoPath, audioPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	logger.Debug("running", zap.String("command", shellescape.QuoteCommand(cmd.Args)))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}

	var result error
	for _, p := range []string{videoPath, audioPath} {
		if err := os.Remove(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		logger.Warn("failed to remove mux inputs", zap.Error(result))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

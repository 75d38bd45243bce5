// Package ytdlp adapts the external yt-dlp tool as an Extractor and Fetcher.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/settings"
)

const (
	DefaultPath = "yt-dlp"
	maxKeep     = 8192
)

var authRequiredMarkers = []string{
	"Sign in to confirm you're not a bot",
	"Sign in to confirm you’re not a bot",
	"LOGIN_REQUIRED",
	"Use --cookies-from-browser or --cookies for the authentication",
}

type Client struct {
	// Path to the yt-dlp executable, DefaultPath if empty.
	Path   string
	Logger *zap.Logger
	// Settings supplies the current download preferences; nil means settings.Defaults().
	Settings func() settings.Settings
}

func (c *Client) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) settings() settings.Settings {
	if c.Settings == nil {
		return settings.Defaults()
	}
	return c.Settings()
}

func videoURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// commonArgs are shared by every invocation. The returned cleanup func removes the temporary cookie jar.
func (c *Client) commonArgs(cookies string, cookieDir string) ([]string, func(), error) {
	args := []string{"--no-playlist"}
	cleanup := func() {}
	s := c.settings()
	if s.Proxy != "" {
		args = append(args, "--proxy", s.Proxy)
	}
	if cookies != "" {
		path, err := credential.WriteCookieJar(cookies, cookieDir)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = os.Remove(path) }
		args = append(args, "--cookies", path)
	}
	return args, cleanup, nil
}

func (c *Client) Resolve(ctx context.Context, videoID string, cookies string) (*video_downloader.VideoInfo, error) {
	args, cleanup, err := c.commonArgs(cookies, "")
	defer cleanup()
	if err != nil {
		return nil, err
	}
	args = append(args, "-J", videoURL(videoID))

	cmd := exec.CommandContext(ctx, c.path(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	c.logger().Debug("running", zap.String("command", shellescape.QuoteCommand(cmd.Args)))
	if err := cmd.Run(); err != nil {
		return nil, commandError(err, stderr.String())
	}
	return ParseInfo(stdout.Bytes())
}

// BuildFetchArgs builds the arguments used to download one format.
func BuildFetchArgs(req video_downloader.FetchRequest, s settings.Settings) []string {
	args := []string{
		"--newline",
		"-f", req.Selector,
		"-o", req.OutputTemplate + ".%(ext)s",
	}
	if limit := s.SpeedLimitBytes(); limit > 0 {
		args = append(args, "--limit-rate", strconv.FormatUint(limit, 10))
	}
	if s.DownloadSubtitles {
		args = append(args, "--write-subs")
	}
	return args
}

func (c *Client) Fetch(ctx context.Context, req video_downloader.FetchRequest, onProgress video_downloader.ProgressFunc) (string, error) {
	logger := c.logger().With(zap.String("video_id", req.VideoID), zap.String("selector", req.Selector))
	args, cleanup, err := c.commonArgs(req.Cookies, filepath.Dir(req.OutputTemplate))
	defer cleanup()
	if err != nil {
		return "", err
	}
	args = append(args, BuildFetchArgs(req, c.settings())...)
	args = append(args, videoURL(req.VideoID))

	cmd := exec.CommandContext(ctx, c.path(), args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("setup stderr pipe: %w", err)
	}
	logger.Debug("running", zap.String("command", shellescape.QuoteCommand(cmd.Args)))
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	var destination string
	var errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, func(line string) {
			if path, ok := ParseDestination(line); ok {
				destination = path
			}
			if onProgress != nil {
				onProgress(video_downloader.FetchProgress{Percent: -1, Line: line})
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, func(line string) {
			if errBuf.Len() < maxKeep {
				errBuf.WriteString(line + "\n")
			}
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", commandError(err, errBuf.String())
	}
	if destination == "" {
		destination = findOutput(req.OutputTemplate)
	}
	if destination == "" {
		return "", fmt.Errorf("yt-dlp finished without reporting an output file")
	}
	return destination, nil
}

func scanLines(r io.Reader, f func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		f(scanner.Text())
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ParseDestination recognises the lines yt-dlp uses to report where a file was written.
func ParseDestination(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "[download] Destination: "); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(line, "[Merger] Merging formats into "); ok {
		return strings.Trim(rest, `"`), true
	}
	if rest, ok := strings.CutPrefix(line, "[download] "); ok {
		if path, ok := strings.CutSuffix(rest, " has already been downloaded"); ok {
			return path, true
		}
	}
	return "", false
}

// findOutput looks for a finished file matching the output template when yt-dlp did not name it.
func findOutput(template string) string {
	matches, _ := filepath.Glob(template + ".*")
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".part", ".ytdl", ".txt", ".vtt", ".srt":
			continue
		}
		return m
	}
	return ""
}

func commandError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	for _, marker := range authRequiredMarkers {
		if strings.Contains(stderr, marker) {
			return fmt.Errorf("%w: %s", video_downloader.ErrAuthRequired, lastLine(stderr))
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && stderr != "" {
		return fmt.Errorf("yt-dlp failed: %w: %s", err, lastLine(stderr))
	}
	return fmt.Errorf("yt-dlp failed: %w", err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

type infoJSON struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Thumbnails []struct {
		URL    string `json:"url"`
		Width  uint   `json:"width"`
		Height uint   `json:"height"`
	} `json:"thumbnails"`
	Formats []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	ABR            float64 `json:"abr"`
	TBR            float64 `json:"tbr"`
	FileSize       int64   `json:"filesize"`
	FileSizeApprox int64   `json:"filesize_approx"`
	FormatNote     string  `json:"format_note"`
}

func hasCodec(codec string) bool {
	return codec != "" && codec != "none"
}

// ParseInfo converts yt-dlp's -J output to a VideoInfo with deduplicated formats.
func ParseInfo(data []byte) (*video_downloader.VideoInfo, error) {
	var raw infoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid yt-dlp output: %w", err)
	}
	info := &video_downloader.VideoInfo{
		ID:       raw.ID,
		Title:    raw.Title,
		Author:   raw.Uploader,
		Duration: time.Duration(raw.Duration * float64(time.Second)),
	}
	for _, t := range raw.Thumbnails {
		info.Thumbnails = append(info.Thumbnails, video_downloader.Thumbnail{URL: t.URL, Width: t.Width, Height: t.Height})
	}
	var options []video_downloader.FormatOption
	for _, f := range raw.Formats {
		o := video_downloader.FormatOption{
			ID:        f.FormatID,
			Container: f.Ext,
			Size:      f.FileSize,
			HasVideo:  hasCodec(f.VCodec) && f.Height > 0,
			HasAudio:  hasCodec(f.ACodec),
			Height:    f.Height,
		}
		if o.Size == 0 {
			o.Size = f.FileSizeApprox
		}
		if o.HasVideo {
			o.Label = video_downloader.VideoLabel(f.Height, o.HasAudio)
		} else if o.HasAudio {
			abr := f.ABR
			if abr == 0 {
				abr = f.TBR
			}
			o.Bitrate = int(math.Round(abr))
			o.Label = video_downloader.AudioLabel(strings.ToLower(f.FormatNote), o.Bitrate)
		} else {
			continue
		}
		options = append(options, o)
	}
	info.Formats = video_downloader.DedupFormats(options)
	return info, nil
}

package video_downloader

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuthRequired is returned by an Extractor (or Fetcher) when the video cannot be accessed without a usable
	// session credential, e.g. because of bot detection.
	ErrAuthRequired = errors.New("authentication required")
)

type Thumbnail struct {
	URL    string `json:"url"`
	Width  uint   `json:"width"`
	Height uint   `json:"height"`
}

// FormatOption describes one candidate stream of a video.
type FormatOption struct {
	// ID is the opaque selector passed to a Fetcher to download this stream.
	ID string `json:"id"`
	// Label is a human-readable quality description, e.g. "720p (with audio)" or "medium 128kbps".
	Label string `json:"label"`
	// Container is the file extension of the stream, e.g. "mp4" or "webm".
	Container string `json:"container"`
	// Size in bytes, or 0 if unknown.
	Size     int64 `json:"size,omitempty"`
	HasVideo bool  `json:"has_video"`
	HasAudio bool  `json:"has_audio"`
	// Height in pixels for video streams.
	Height int `json:"height,omitempty"`
	// Bitrate in kbps for audio streams.
	Bitrate int `json:"bitrate,omitempty"`
}

func (f FormatOption) IsVideoOnly() bool {
	return f.HasVideo && !f.HasAudio
}

func (f FormatOption) IsAudioOnly() bool {
	return f.HasAudio && !f.HasVideo
}

// VideoInfo is the result of resolving a video.
type VideoInfo struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Author     string         `json:"author"`
	Duration   time.Duration  `json:"-"`
	Thumbnails []Thumbnail    `json:"thumbnails"`
	Formats    []FormatOption `json:"formats"`
}

// BestThumbnail returns the URL of the largest thumbnail, or "" if there are none.
func (v *VideoInfo) BestThumbnail() string {
	var best *Thumbnail
	for i := range v.Thumbnails {
		t := &v.Thumbnails[i]
		if best == nil || t.Width*t.Height > best.Width*best.Height {
			best = t
		}
	}
	if best == nil {
		return ""
	}
	return best.URL
}

// An Extractor resolves a video ID into metadata and available formats.
type Extractor interface {
	// Resolve returns ErrAuthRequired (possibly wrapped) if the video needs a usable credential. The cookies argument
	// is the raw credential blob, and may be empty.
	Resolve(ctx context.Context, videoID string, cookies string) (*VideoInfo, error)
}

// FetchRequest describes a single stream to download.
type FetchRequest struct {
	VideoID  string
	Selector string
	// OutputTemplate is the output path without extension; the Fetcher chooses the extension.
	OutputTemplate string
	// Cookies is the raw credential blob, and may be empty.
	Cookies string
}

// FetchProgress is a best-effort progress report from a Fetcher. Any field may be zero.
type FetchProgress struct {
	// Percent in the range [0, 100], or negative if unknown.
	Percent    float64
	Downloaded int64
	Total      int64
	// Line is a raw log line from an external tool, for progress to be parsed from.
	Line string
}

type ProgressFunc func(FetchProgress)

// A Fetcher downloads one stream to disk.
type Fetcher interface {
	// Fetch blocks until the download completes, returning the path of the downloaded file. Cancelling ctx must
	// terminate the download; progress may be called from any goroutine until Fetch returns.
	Fetch(ctx context.Context, req FetchRequest, progress ProgressFunc) (string, error)
}

// A Muxer combines a video-only file and an audio-only file into a single container without re-encoding.
type Muxer interface {
	// Mux writes outputPath and removes both inputs on success.
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

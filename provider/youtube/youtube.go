package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/progress"
)

const ProviderName = "youtube"

var (
	reVideoID = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

	// Reasons given by YouTube when it wants a signed-in session
	authRequiredMarkers = []string{
		"LOGIN_REQUIRED",
		"Sign in to confirm you're not a bot",
		"Sign in to confirm you’re not a bot",
	}
)

// Client resolves and fetches videos using github.com/kkdai/youtube.
type Client struct {
	// HTTPClient is the base client; its Jar and Transport are replaced per request when cookies or a proxy are set.
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Proxy is an optional proxy URL.
	Proxy string
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) client(cookies string) (*youtube.Client, error) {
	httpClient := &http.Client{}
	if c.HTTPClient != nil {
		*httpClient = *c.HTTPClient
	}
	if c.Proxy != "" {
		proxyURL, err := url.Parse(c.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	if cookies != "" {
		jar, err := credential.HTTPJar(cookies)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	return &youtube.Client{HTTPClient: httpClient}, nil
}

func (c *Client) getVideo(ctx context.Context, videoID string, cookies string) (*youtube.Client, *youtube.Video, error) {
	client, err := c.client(cookies)
	if err != nil {
		return nil, nil, err
	}
	video, err := client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, nil, mapError(err)
	}
	return client, video, nil
}

func (c *Client) Resolve(ctx context.Context, videoID string, cookies string) (*video_downloader.VideoInfo, error) {
	c.logger().Debug("resolving video", zap.String("video_id", videoID), zap.Bool("cookies", cookies != ""))
	_, video, err := c.getVideo(ctx, videoID, cookies)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	info := &video_downloader.VideoInfo{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		Formats:  video_downloader.DedupFormats(ConvertFormats(video.Formats)),
	}
	for _, t := range video.Thumbnails {
		info.Thumbnails = append(info.Thumbnails, video_downloader.Thumbnail{URL: t.URL, Width: t.Width, Height: t.Height})
	}
	return info, nil
}

func (c *Client) Fetch(ctx context.Context, req video_downloader.FetchRequest, onProgress video_downloader.ProgressFunc) (string, error) {
	logger := c.logger().With(zap.String("video_id", req.VideoID), zap.String("selector", req.Selector))
	client, video, err := c.getVideo(ctx, req.VideoID, req.Cookies)
	if err != nil {
		return "", fmt.Errorf("failed to get video info: %w", err)
	}
	format, err := selectFormat(video.Formats, req.Selector)
	if err != nil {
		return "", err
	}
	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("failed to get stream: %w", mapError(err))
	}
	defer stream.Close()

	d := video_downloader.NewDownloadBuilder().
		WithContext(ctx).
		WithTargetDir(filepath.Dir(req.OutputTemplate)).
		WithProgressCallback(func(downloaded int64, expected int64) {
			if onProgress != nil {
				onProgress(video_downloader.FetchProgress{
					Percent:    progress.Percent(downloaded, expected),
					Downloaded: downloaded,
					Total:      expected,
				})
			}
		}).
		Build()
	if size > 0 {
		d.AddExpectedBytes(size)
	}
	filename := filepath.Base(req.OutputTemplate) + "." + containerOf(format.MimeType)
	logger.Debug("saving stream", zap.Int("itag", format.ItagNo), zap.String("filename", filename), zap.Int64("size", size))
	return d.SaveStream(filename, stream)
}

// selectFormat finds a format by itag number, or by one of "best", "bestvideo" and "bestaudio".
func selectFormat(formats youtube.FormatList, selector string) (*youtube.Format, error) {
	options := ConvertFormats(formats)
	var id string
	switch selector {
	case "best", "":
		var best *video_downloader.FormatOption
		for i, o := range options {
			if o.HasVideo && o.HasAudio && (best == nil || o.Height > best.Height) {
				best = &options[i]
			}
		}
		if best != nil {
			id = best.ID
		}
	case "bestvideo":
		if o, ok := video_downloader.BestVideo(video_downloader.DedupFormats(options)); ok {
			id = o.ID
		}
	case "bestaudio":
		if o, ok := video_downloader.BestAudio(video_downloader.DedupFormats(options)); ok {
			id = o.ID
		}
	default:
		id = selector
	}
	itag, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("no format matches %q", selector)
	}
	for i := range formats {
		if formats[i].ItagNo == itag {
			return &formats[i], nil
		}
	}
	return nil, fmt.Errorf("no format matches %q", selector)
}

// ConvertFormats maps the library's formats to FormatOption, without deduplicating them.
func ConvertFormats(formats youtube.FormatList) []video_downloader.FormatOption {
	options := make([]video_downloader.FormatOption, 0, len(formats))
	for _, f := range formats {
		o := video_downloader.FormatOption{
			ID:        strconv.Itoa(f.ItagNo),
			Container: containerOf(f.MimeType),
			Size:      f.ContentLength,
			HasVideo:  strings.HasPrefix(f.MimeType, "video/"),
			HasAudio:  f.AudioChannels > 0,
			Height:    f.Height,
		}
		if o.HasVideo {
			o.Label = video_downloader.VideoLabel(f.Height, o.HasAudio)
		} else if o.HasAudio {
			bitrate := f.AverageBitrate
			if bitrate == 0 {
				bitrate = f.Bitrate
			}
			o.Bitrate = (bitrate + 500) / 1000
			o.Label = video_downloader.AudioLabel(audioQuality(f.AudioQuality), o.Bitrate)
		} else {
			continue
		}
		options = append(options, o)
	}
	return options
}

// "AUDIO_QUALITY_MEDIUM" -> "medium"
func audioQuality(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "AUDIO_QUALITY_"))
}

// "video/mp4; codecs=..." -> "mp4", with audio/mp4 reported as "m4a"
func containerOf(mimeType string) string {
	mediaType := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "bin"
	}
	if parts[0] == "audio" && parts[1] == "mp4" {
		return "m4a"
	}
	return parts[1]
}

func mapError(err error) error {
	if errors.Is(err, youtube.ErrLoginRequired) || errors.Is(err, youtube.ErrVideoPrivate) {
		return fmt.Errorf("%w: %v", video_downloader.ErrAuthRequired, err)
	}
	msg := err.Error()
	for _, marker := range authRequiredMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", video_downloader.ErrAuthRequired, err)
		}
	}
	return err
}

// Match extracts a video ID from a YouTube URL, or accepts a bare video ID.
func Match(s string) (string, error) {
	s = strings.TrimSpace(s)
	if reVideoID.MatchString(s) {
		return s, nil
	}
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else if videoID, err := extractVideoID(parsedURL); err != nil {
		return "", err
	} else {
		return videoID, nil
	}
}

func New() video_downloader.Provider {
	return video_downloader.Provider{Name: ProviderName, Match: Match}
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m|music.)youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m|music.)youtube.com/(v|embed|shorts|live)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(url *url.URL) (string, error) {
	var id string
	switch strings.TrimPrefix(strings.ToLower(url.Hostname()), "www.") {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if url.Path == "/watch" || url.Path == "/details" {
			if url.Query().Has("v") {
				id = url.Query().Get("v")
			} else {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
		} else {
			for _, prefix := range []string{"/v/", "/embed/", "/shorts/", "/live/"} {
				if strings.HasPrefix(url.Path, prefix) {
					id = strings.SplitN(strings.TrimPrefix(url.Path, prefix), "/", 2)[0]
					break
				}
			}
		}
	case "youtu.be":
		id = strings.SplitN(strings.Trim(url.Path, "/"), "/", 2)[0]
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	if !reVideoID.MatchString(id) {
		return "", fmt.Errorf("could not extract video ID")
	}
	return id, nil
}

func init() {
	video_downloader.DefaultProviderRegistry.MustAdd(New())
}

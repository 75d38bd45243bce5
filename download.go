package video_downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
)

type Download interface {
	// AddDownloadedBytes increases how many bytes have been successfully downloaded so far.
	AddDownloadedBytes(n int64)

	// AddExpectedBytes increases how many bytes are expected to be downloaded.
	AddExpectedBytes(n int64)

	// Cancel the Download, stopping any in-progress I/O activity.
	Cancel()

	// Context is the cancellable context of this Download.
	Context() context.Context

	// CreateFile creates (or truncates) a file in the target directory.
	CreateFile(filename string) (*os.File, error)

	// Progress returns the downloaded and expected bytes of the download.
	Progress() (int64, int64)

	// SaveHTTPRequest will execute the http.Request with Context() and then download the resulting stream like
	// SaveStream. If filename has no extension and an extension func is configured, an extension is chosen from the
	// response Content-Type. Returns the path of the saved file.
	SaveHTTPRequest(filename string, req *http.Request) (string, error)

	// SaveStream will download the stream to the named file, calling AddDownloadedBytes as necessary. Returns the
	// path of the saved file.
	SaveStream(filename string, stream io.Reader) (string, error)

	// SaveURL will make a GET request to the URL and then download the resulting stream like SaveHTTPRequest.
	SaveURL(filename string, url string) (string, error)

	// Write will ignore the data but will send the byte count to AddDownloadedBytes. Allows progress tracking using
	// io.MultiWriter (but ensure the Download is the last writer to avoid counting failed writes).
	Write(p []byte) (n int, err error)
}

type download struct {
	ctx              context.Context
	cancel           context.CancelFunc
	client           *http.Client
	extensionFunc    func(contentType string) string
	progressCallback func(int64, int64)
	targetDir        string
	expectedBytes    int64
	downloadedBytes  int64
}

func (d *download) AddDownloadedBytes(n int64) {
	d.downloadedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) AddExpectedBytes(n int64) {
	d.expectedBytes += n
	if d.progressCallback != nil {
		d.progressCallback(d.Progress())
	}
}

func (d *download) Cancel() {
	d.cancel()
}

func (d *download) Context() context.Context {
	return d.ctx
}

func (d *download) CreateFile(filename string) (*os.File, error) {
	targetPath, err := d.targetPath(filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.targetDir, 0775); err != nil {
		return nil, err
	}
	return os.Create(targetPath)
}

func (d *download) Progress() (int64, int64) {
	return d.downloadedBytes, d.expectedBytes
}

func (d *download) SaveHTTPRequest(filename string, req *http.Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("nil request")
	}
	req = req.WithContext(d.Context())
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}
	if filepath.Ext(filename) == "" && d.extensionFunc != nil {
		filename = filename + "." + d.extensionFunc(resp.Header.Get("Content-Type"))
	}
	if resp.ContentLength > 0 {
		d.AddExpectedBytes(resp.ContentLength)
	}
	return d.SaveStream(filename, resp.Body)
}

func (d *download) SaveStream(filename string, stream io.Reader) (string, error) {
	f, err := d.CreateFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	logger := Logger(d.ctx)
	logger.Debug("saving stream", zap.String("path", f.Name()))
	n, err := io.Copy(io.MultiWriter(f, d), &readerContext{ctx: d.ctx, r: stream})
	if err != nil {
		return "", fmt.Errorf("failed to save stream: %w", err)
	}
	logger.Debug("saved stream", zap.String("path", f.Name()), zap.Int64("bytes", n))
	return f.Name(), nil
}

func (d *download) SaveURL(filename string, url string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	return d.SaveHTTPRequest(filename, req)
}

func (d *download) Write(p []byte) (n int, err error) {
	n = len(p)
	d.AddDownloadedBytes(int64(n))
	return n, nil
}

func (d *download) targetPath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.Trim(filename, ".") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(d.targetDir, filename), nil
}

type DownloadBuilder interface {
	Build() Download
	WithContext(ctx context.Context) DownloadBuilder
	WithExtensionFunc(f func(contentType string) string) DownloadBuilder
	WithHTTPClient(client *http.Client) DownloadBuilder
	WithProgressCallback(f func(downloaded int64, expected int64)) DownloadBuilder
	WithTargetDir(dir string) DownloadBuilder
}

type downloadBuilder struct {
	ctx              context.Context
	client           *http.Client
	extensionFunc    func(string) string
	progressCallback func(int64, int64)
	targetDir        string
}

func NewDownloadBuilder() DownloadBuilder {
	return &downloadBuilder{
		ctx:       context.Background(),
		client:    http.DefaultClient,
		targetDir: ".",
	}
}

func (b *downloadBuilder) Build() Download {
	d := download{}
	d.ctx, d.cancel = context.WithCancel(b.ctx)
	d.client = b.client
	d.extensionFunc = b.extensionFunc
	d.progressCallback = b.progressCallback
	d.targetDir = b.targetDir
	return &d
}

func (b *downloadBuilder) WithContext(ctx context.Context) DownloadBuilder {
	b.ctx = ctx
	return b
}

func (b *downloadBuilder) WithExtensionFunc(f func(string) string) DownloadBuilder {
	b.extensionFunc = f
	return b
}

func (b *downloadBuilder) WithHTTPClient(client *http.Client) DownloadBuilder {
	if client != nil {
		b.client = client
	}
	return b
}

func (b *downloadBuilder) WithProgressCallback(f func(int64, int64)) DownloadBuilder {
	b.progressCallback = f
	return b
}

func (b *downloadBuilder) WithTargetDir(dir string) DownloadBuilder {
	b.targetDir = dir
	return b
}

// ImageExtension picks a file extension for a thumbnail from its Content-Type: png, webp, or jpg for anything else.
func ImageExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

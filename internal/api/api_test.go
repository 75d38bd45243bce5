package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/download"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/journal"
	"github.com/alanbriolat/video-downloader/internal/session"
	"github.com/alanbriolat/video-downloader/internal/settings"
	_ "github.com/alanbriolat/video-downloader/provider/youtube"
)

type fileFetcher struct {
	block bool
}

func (f *fileFetcher) Fetch(ctx context.Context, req video_downloader.FetchRequest, progress video_downloader.ProgressFunc) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	path := req.OutputTemplate + ".mp4"
	return path, os.WriteFile(path, []byte(req.Selector), 0644)
}

type staticExtractor struct{}

func (staticExtractor) Resolve(ctx context.Context, videoID string, cookies string) (*video_downloader.VideoInfo, error) {
	if videoID == "privatevid1" && !credential.IsUsable(cookies) {
		return nil, video_downloader.ErrAuthRequired
	}
	return &video_downloader.VideoInfo{
		ID:       videoID,
		Title:    "A Video",
		Duration: 90 * time.Second,
		Formats: []video_downloader.FormatOption{
			{ID: "18", Container: "mp4", HasVideo: true, HasAudio: true, Height: 360},
			{ID: "137", Container: "mp4", HasVideo: true, Height: 1080},
			{ID: "140", Container: "m4a", HasAudio: true, Bitrate: 128},
		},
	}, nil
}

type testServer struct {
	*httptest.Server
	session     *session.Session
	credentials *credential.Credentials
	output      string
}

func newTestServer(t *testing.T, fetcher video_downloader.Fetcher) *testServer {
	dir := t.TempDir()
	workspace, err := download.NewWorkspace(
		download.WithCacheDir(filepath.Join(dir, "cache")),
		download.WithOutputDir(filepath.Join(dir, "output")),
	)
	if err != nil {
		t.Fatal(err)
	}
	j, err := journal.Open(filepath.Join(dir, "journal.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	credentials := credential.New(&credential.MemoryStore{})
	sess, err := session.New(context.Background(), session.Config{
		Extractor:   staticExtractor{},
		Fetcher:     fetcher,
		Workspace:   workspace,
		Credentials: credentials,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)
	manager, err := settings.NewManager(&settings.MemoryStore{})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := sess.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	go j.Run(sub)

	server := NewServer(Config{Session: sess, Credentials: credentials, Settings: manager, Journal: j})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, session: sess, credentials: credentials, output: workspace.OutputDir()}
}

func (ts *testServer) do(t *testing.T, method string, path string, body interface{}, out interface{}) int {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) waitForStatus(t *testing.T, id string, status session.TaskStatus) map[string]interface{} {
	var task map[string]interface{}
	assert_.Eventually(t, func() bool {
		task = nil
		ts.do(t, http.MethodGet, "/tasks/"+id, nil, &task)
		return task["status"] == string(status)
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestServer_Health(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})
	var body map[string]string
	assert.Equal(http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal("ok", body["status"])
}

func TestServer_Resolve(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})

	var video map[string]interface{}
	status := ts.do(t, http.MethodPost, "/resolve", map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"}, &video)
	assert.Equal(http.StatusOK, status)
	assert.Equal("dQw4w9WgXcQ", video["id"])
	assert.Equal(90.0, video["duration_seconds"])
	assert.Equal("137", video["best_video"])
	assert.Equal("140", video["best_audio"])
	assert.Len(video["formats"], 3)

	var errBody map[string]string
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/resolve", map[string]string{"url": "https://example.com/"}, &errBody))
	assert.NotEmpty(errBody["error"])
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/resolve", map[string]string{}, nil))

	// Without a login hook, authentication errors are reported to the caller
	assert.Equal(http.StatusUnauthorized, ts.do(t, http.MethodPost, "/resolve", map[string]string{"url": "privatevid1"}, nil))
	assert.Nil(ts.credentials.Save("SID=a; SAPISID=b"))
	assert.Equal(http.StatusOK, ts.do(t, http.MethodPost, "/resolve", map[string]string{"url": "privatevid1"}, nil))
}

func TestServer_Tasks(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})

	var created map[string]string
	status := ts.do(t, http.MethodPost, "/tasks", session.TaskRequest{VideoID: "abc", Title: "Hello", Kind: session.TaskKindVideo, Selector: "18"}, &created)
	assert.Equal(http.StatusCreated, status)
	id := created["task_id"]
	assert.NotEmpty(id)

	task := ts.waitForStatus(t, id, session.TaskStatusCompleted)
	assert.Equal("Completed", task["status_text"])
	assert.Equal(filepath.Join(ts.output, "hello.mp4"), task["output_path"])

	var tasks []map[string]interface{}
	assert.Equal(http.StatusOK, ts.do(t, http.MethodGet, "/tasks", nil, &tasks))
	assert.Len(tasks, 1)

	var history []journal.Entry
	assert.Eventually(func() bool {
		history = nil
		ts.do(t, http.MethodGet, "/tasks/"+id+"/history", nil, &history)
		return len(history) == 3
	}, 2*time.Second, 10*time.Millisecond)
	if len(history) == 3 {
		assert.Equal("completed", history[2].Status)
	}

	// Actions on a completed task change nothing
	assert.Equal(http.StatusOK, ts.do(t, http.MethodPost, "/tasks/"+id+"/pause", nil, &task))
	assert.Equal("completed", task["status"])

	assert.Equal(http.StatusNoContent, ts.do(t, http.MethodDelete, "/tasks/"+id+"?output=true", nil, nil))
	assert.NoFileExists(filepath.Join(ts.output, "hello.mp4"))
	assert.Equal(http.StatusNotFound, ts.do(t, http.MethodGet, "/tasks/"+id, nil, nil))
	assert.Equal(http.StatusNotFound, ts.do(t, http.MethodDelete, "/tasks/"+id, nil, nil))
}

func TestServer_TaskActions(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{block: true})

	var created map[string]string
	ts.do(t, http.MethodPost, "/tasks", session.TaskRequest{VideoID: "abc", Kind: session.TaskKindAudio}, &created)
	id := created["task_id"]
	ts.waitForStatus(t, id, session.TaskStatusDownloading)

	var task map[string]interface{}
	assert.Equal(http.StatusOK, ts.do(t, http.MethodPost, "/tasks/"+id+"/pause", nil, &task))
	assert.Equal("paused", task["status"])
	assert.Equal("Paused at 0%", task["status_text"])
	assert.Equal(http.StatusOK, ts.do(t, http.MethodPost, "/tasks/"+id+"/resume", nil, &task))
	ts.waitForStatus(t, id, session.TaskStatusDownloading)
	assert.Equal(http.StatusOK, ts.do(t, http.MethodPost, "/tasks/"+id+"/cancel", nil, &task))
	assert.Equal("cancelled", task["status"])

	assert.Equal(http.StatusNotFound, ts.do(t, http.MethodPost, "/tasks/missing/cancel", nil, nil))
}

func TestServer_InvalidTasks(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})

	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/tasks", session.TaskRequest{VideoID: "abc", Kind: "playlist"}, nil))
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/tasks", session.TaskRequest{Kind: session.TaskKindVideo}, nil))
	var errBody map[string]string
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/tasks", session.TaskRequest{VideoID: "abc", Kind: session.TaskKindMerge, Selector: "137"}, &errBody))
	assert.True(strings.HasPrefix(errBody["error"], "invalid request"))
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPost, "/thumbnails", map[string]string{"video_id": "abc", "thumbnail_url": "not a url"}, nil))

	resp, err := ts.Client().Post(ts.URL+"/tasks", "application/json", strings.NewReader("{"))
	assert.Nil(err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Credential(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})

	var state map[string]bool
	ts.do(t, http.MethodGet, "/credential", nil, &state)
	assert.Equal(map[string]bool{"stored": false, "valid": false}, state)

	// Unusable credentials are stored but reported
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPut, "/credential", map[string]string{"cookies": "PREF=x"}, nil))
	ts.do(t, http.MethodGet, "/credential", nil, &state)
	assert.Equal(map[string]bool{"stored": true, "valid": false}, state)

	assert.Equal(http.StatusNoContent, ts.do(t, http.MethodPut, "/credential", map[string]string{"cookies": "SID=a; SAPISID=b"}, nil))
	ts.do(t, http.MethodGet, "/credential", nil, &state)
	assert.Equal(map[string]bool{"stored": true, "valid": true}, state)

	assert.Equal(http.StatusNoContent, ts.do(t, http.MethodDelete, "/credential", nil, nil))
	ts.do(t, http.MethodGet, "/credential", nil, &state)
	assert.Equal(map[string]bool{"stored": false, "valid": false}, state)
}

func TestServer_Settings(t *testing.T) {
	assert := assert_.New(t)
	ts := newTestServer(t, &fileFetcher{})

	var current settings.Settings
	assert.Equal(http.StatusOK, ts.do(t, http.MethodGet, "/settings", nil, &current))
	assert.Equal(settings.Defaults(), current)

	assert.Equal(http.StatusOK, ts.do(t, http.MethodPut, "/settings/speed_limit", map[string]string{"value": "1MB"}, &current))
	assert.Equal("1MB", current.SpeedLimit)
	assert.Equal(http.StatusBadRequest, ts.do(t, http.MethodPut, "/settings/max_concurrent", map[string]string{"value": "99"}, nil))
	assert.Equal(http.StatusNotFound, ts.do(t, http.MethodPut, "/settings/dark_mode", map[string]string{"value": "true"}, nil))
}

func TestStatusFor(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(http.StatusNotFound, statusFor(session.ErrUnknownTask))
	assert.Equal(http.StatusUnauthorized, statusFor(video_downloader.ErrAuthRequired))
	assert.Equal(http.StatusServiceUnavailable, statusFor(session.ErrSessionClosed))
	assert.Equal(http.StatusInternalServerError, statusFor(os.ErrPermission))
}

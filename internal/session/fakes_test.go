package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/download"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fetchFunc = func(ctx context.Context, req video_downloader.FetchRequest, progress video_downloader.ProgressFunc) (string, error)

type fakeFetcher struct {
	mu       sync.Mutex
	requests []video_downloader.FetchRequest
	fetch    fetchFunc
}

func (f *fakeFetcher) Fetch(ctx context.Context, req video_downloader.FetchRequest, progress video_downloader.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fetch := f.fetch
	f.mu.Unlock()
	return fetch(ctx, req, progress)
}

func (f *fakeFetcher) Requests() []video_downloader.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]video_downloader.FetchRequest(nil), f.requests...)
}

var testExtensions = map[string]string{
	"137":       "mp4",
	"140":       "m4a",
	"best":      "mp4",
	"bestaudio": "m4a",
}

// writingFetch writes a file named after the request, reporting progress at 50% and 100%.
func writingFetch(ctx context.Context, req video_downloader.FetchRequest, progress video_downloader.ProgressFunc) (string, error) {
	ext, ok := testExtensions[req.Selector]
	if !ok {
		ext = "bin"
	}
	content := []byte("content of " + req.Selector)
	total := int64(len(content))
	progress(video_downloader.FetchProgress{Percent: 50, Downloaded: total / 2, Total: total})
	path := req.OutputTemplate + "." + ext
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", err
	}
	progress(video_downloader.FetchProgress{Percent: 100, Downloaded: total, Total: total})
	return path, nil
}

type muxCall struct {
	Video, Audio, Output string
}

type fakeMuxer struct {
	mu    sync.Mutex
	calls []muxCall
	err   error
}

func (m *fakeMuxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	m.mu.Lock()
	m.calls = append(m.calls, muxCall{videoPath, audioPath, outputPath})
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	video, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, append(video, audio...), 0644); err != nil {
		return err
	}
	_ = os.Remove(videoPath)
	_ = os.Remove(audioPath)
	return nil
}

func (m *fakeMuxer) Calls() []muxCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]muxCall(nil), m.calls...)
}

type fakeExtractor struct {
	mu      sync.Mutex
	cookies []string
	resolve func(videoID string, cookies string) (*video_downloader.VideoInfo, error)
}

func (e *fakeExtractor) Resolve(ctx context.Context, videoID string, cookies string) (*video_downloader.VideoInfo, error) {
	e.mu.Lock()
	e.cookies = append(e.cookies, cookies)
	e.mu.Unlock()
	return e.resolve(videoID, cookies)
}

func (e *fakeExtractor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cookies...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// recorder drains a subscription, keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(t *testing.T, s *Session, ids ...TaskID) *recorder {
	sub, err := s.Subscribe(ids...)
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	go func() {
		for e := range sub.Receive() {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(sub.Close)
	return r
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// AssertHistory checks every state the task was observed in: only a completed task has an output path, only a failed
// task has an error, and nothing changes a completed or cancelled task.
func (r *recorder) AssertHistory(t *testing.T, id TaskID) {
	check := func(state TaskState) {
		if (state.OutputPath != "") != (state.Status == TaskStatusCompleted) {
			t.Errorf("%s task has output path %q", state.Status, state.OutputPath)
		}
		if (state.Error != "") != (state.Status == TaskStatusFailed) {
			t.Errorf("%s task has error %q", state.Status, state.Error)
		}
	}
	for _, e := range r.Events() {
		if e.TaskID() != id {
			continue
		}
		switch e := e.(type) {
		case TaskAdded:
			check(e.State)
		case TaskUpdated:
			if e.OldState.Status == TaskStatusCompleted || e.OldState.Status == TaskStatusCancelled {
				t.Errorf("%s task updated to %+v", e.OldState.Status, e.NewState)
			}
			check(e.NewState)
		}
	}
}

// Statuses lists the distinct statuses the task passed through, in order.
func (r *recorder) Statuses(id TaskID) []TaskStatus {
	var statuses []TaskStatus
	for _, e := range r.Events() {
		var status TaskStatus
		switch e := e.(type) {
		case TaskAdded:
			status = e.State.Status
		case TaskUpdated:
			status = e.NewState.Status
		default:
			continue
		}
		if e.TaskID() == id && (len(statuses) == 0 || statuses[len(statuses)-1] != status) {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func newTestWorkspace(t *testing.T, outputDir string) *download.Workspace {
	workspace, err := download.NewWorkspace(
		download.WithCacheDir(filepath.Join(t.TempDir(), "cache")),
		download.WithOutputDir(outputDir),
	)
	if err != nil {
		t.Fatal(err)
	}
	return workspace
}

type testEnv struct {
	session   *Session
	workspace *download.Workspace
	fetcher   *fakeFetcher
	muxer     *fakeMuxer
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	if config.Workspace == nil {
		config.Workspace = newTestWorkspace(t, filepath.Join(t.TempDir(), "output"))
	}
	env := &testEnv{workspace: config.Workspace}
	if config.Fetcher == nil {
		env.fetcher = &fakeFetcher{fetch: writingFetch}
		config.Fetcher = env.fetcher
	}
	if config.Muxer == nil {
		env.muxer = &fakeMuxer{}
		config.Muxer = env.muxer
	}
	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Millisecond
	}
	var err error
	env.session, err = New(context.Background(), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.session.Close)
	return env
}

func (env *testEnv) waitForStatus(t *testing.T, id TaskID, status TaskStatus) TaskState {
	var state TaskState
	assert_.Eventually(t, func() bool {
		state, _ = env.session.GetTask(id)
		return state.Status == status
	}, waitFor, tick, "waiting for %s", status)
	return state
}

// receive gets a value from ch, failing the test on timeout.
func receive[T any](t *testing.T, ch <-chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

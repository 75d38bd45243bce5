package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/download"
	"github.com/alanbriolat/video-downloader/generic"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/pubsub"
)

var (
	ErrUnknownTask    = errors.New("unknown task")
	ErrSessionClosed  = errors.New("session closed")
	ErrInvalidRequest = errors.New("invalid request")
)

// MuxFailurePolicy decides what happens to a merge task when muxing fails.
type MuxFailurePolicy string

const (
	// MuxFailureFail fails the task.
	MuxFailureFail MuxFailurePolicy = "fail"
	// MuxFailureDegrade completes the task with the video-only file and a warning.
	MuxFailureDegrade MuxFailurePolicy = "degrade"
)

const DefaultPollInterval = 500 * time.Millisecond

// LoginFunc obtains a fresh credential blob, e.g. by asking the user to sign in.
type LoginFunc func(ctx context.Context) (string, error)

type Notifier interface {
	Notify(text string)
}

type Config struct {
	Extractor video_downloader.Extractor
	Fetcher   video_downloader.Fetcher
	Muxer     video_downloader.Muxer
	Workspace *download.Workspace
	Naming    *video_downloader.NamingConfig
	Providers *video_downloader.ProviderRegistry

	Credentials *credential.Credentials
	Login       LoginFunc

	Logger *zap.Logger
	// Interval between checks of the on-disk size of downloads in progress.
	PollInterval time.Duration
	MuxFailure   MuxFailurePolicy
	// Maximum number of pipelines running at once.
	MaxConcurrent int
	Notifier      Notifier
	// Used for thumbnails.
	HTTPClient *http.Client
}

type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	mu      sync.RWMutex
	closed  bool
	running sync.WaitGroup // Pipeline goroutines
	helpers sync.WaitGroup // Session's own subscribers

	tasks  *registry
	events pubsub.Publisher[Event]
	slots  *semaphore.Weighted
}

func New(ctx context.Context, config Config) (*Session, error) {
	if config.Fetcher == nil {
		return nil, errors.New("session requires a Fetcher")
	}
	if config.Workspace == nil {
		return nil, errors.New("session requires a Workspace")
	}
	if config.Naming == nil {
		config.Naming = video_downloader.NewNamingConfig()
	}
	if config.Providers == nil {
		config.Providers = &video_downloader.DefaultProviderRegistry
	}
	if config.Credentials == nil {
		config.Credentials = credential.New(&credential.MemoryStore{})
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MuxFailure == "" {
		config.MuxFailure = MuxFailureFail
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       config.Logger.Named("session").Sugar(),
		tasks:     newRegistry(),
		events:    pubsub.NewPublisher[Event](),
		slots:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
	if config.Notifier != nil {
		sub := generic.Unwrap(s.Subscribe())
		s.helpers.Add(1)
		go func() {
			defer s.helpers.Done()
			runNotifier(sub, config.Notifier)
		}()
	}
	return s, nil
}

// Subscribe to events for the given tasks, or for all tasks if none are given. Close the receiver to unsubscribe.
func (s *Session) Subscribe(ids ...TaskID) (pubsub.ReceiverCloser[Event], error) {
	ch := pubsub.NewChannel[Event](pubsub.DefaultSubscriberBufSize)
	var sender pubsub.SenderCloser[Event] = ch
	if len(ids) > 0 {
		wanted := make(map[TaskID]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		sender = pubsub.NewFilteredSender[Event](ch, func(e Event) bool {
			return wanted[e.TaskID()]
		})
	}
	if err := s.events.AddSubscriber(sender, true); err != nil {
		return nil, ErrSessionClosed
	}
	return ch, nil
}

func (s *Session) GetTask(id TaskID) (TaskState, error) {
	t := s.tasks.get(id)
	if t == nil {
		return TaskState{}, ErrUnknownTask
	}
	return t.snapshot(), nil
}

// ListTasks returns snapshots of all tasks, oldest first.
func (s *Session) ListTasks() []TaskState {
	tasks := s.tasks.all()
	list := make([]TaskState, 0, len(tasks))
	for _, t := range tasks {
		list = append(list, t.snapshot())
	}
	return list
}

func validateRequest(req *TaskRequest) error {
	if strings.TrimSpace(req.VideoID) == "" {
		return fmt.Errorf("%w: missing video ID", ErrInvalidRequest)
	}
	if req.Title == "" {
		req.Title = req.VideoID
	}
	switch req.Kind {
	case TaskKindVideo:
		if req.Selector == "" {
			req.Selector = "best"
		}
	case TaskKindAudio:
		if req.Selector == "" {
			req.Selector = "bestaudio"
		}
	case TaskKindMerge:
		if _, _, ok := splitMergeSelector(req.Selector); !ok {
			return fmt.Errorf("%w: merge selector must be \"<video>+<audio>\", got %q", ErrInvalidRequest, req.Selector)
		}
	case TaskKindThumbnail:
		if req.ThumbnailURL == "" {
			return fmt.Errorf("%w: missing thumbnail URL", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown task kind %q", ErrInvalidRequest, req.Kind)
	}
	return nil
}

func splitMergeSelector(selector string) (video string, audio string, ok bool) {
	video, audio, ok = strings.Cut(selector, "+")
	video, audio = strings.TrimSpace(video), strings.TrimSpace(audio)
	return video, audio, ok && video != "" && audio != "" && !strings.Contains(audio, "+")
}

// CreateTask adds a PENDING task and starts its pipeline in the background.
func (s *Session) CreateTask(req TaskRequest) (TaskID, error) {
	if err := validateRequest(&req); err != nil {
		return "", err
	}
	t := newTask(req, s.log)
	if err := s.tasks.insert(t); err != nil {
		return "", err
	}
	if err := t.events.AddSubscriber(s.events, false); err != nil {
		s.tasks.remove(t.id)
		return "", ErrSessionClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.start(t); err != nil {
		s.tasks.remove(t.id)
		t.removed = true
		t.events.Close()
		return "", err
	}
	t.events.Send(TaskAdded{State: t.state})
	t.log.Infow("task added", "video_id", t.videoID, "kind", t.kind, "selector", t.selector)
	return t.id, nil
}

// CreateThumbnailTask adds a task that saves a thumbnail image as a cover.
func (s *Session) CreateThumbnailTask(videoID string, title string, thumbnailURL string) (TaskID, error) {
	return s.CreateTask(TaskRequest{VideoID: videoID, Title: title, ThumbnailURL: thumbnailURL, Kind: TaskKindThumbnail})
}

// start launches a new run of the task's pipeline. Must hold t.mu.
func (s *Session) start(t *task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	ctx, cancel := context.WithCancel(s.ctx)
	h := &runHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	prev := t.lastRun
	t.handle = h
	t.lastRun = h
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(h.done)
		defer h.cancel()
		s.run(t, h, prev)
	}()
	return nil
}

// PauseTask stops a PENDING or DOWNLOADING task, keeping its cache files. Otherwise it does nothing.
func (s *Session) PauseTask(id TaskID) error {
	t := s.tasks.get(id)
	if t == nil {
		return ErrUnknownTask
	}
	if t.mutate(func() bool {
		if t.state.Status != TaskStatusPending && t.state.Status != TaskStatusDownloading {
			return false
		}
		t.state.Status = TaskStatusPaused
		return true
	}) {
		t.log.Info("task paused")
	}
	return nil
}

// ResumeTask restarts a PAUSED or FAILED task from the beginning. Otherwise it does nothing.
func (s *Session) ResumeTask(id TaskID) error {
	t := s.tasks.get(id)
	if t == nil {
		return ErrUnknownTask
	}
	var err error
	if t.mutate(func() bool {
		if t.state.Status != TaskStatusPaused && t.state.Status != TaskStatusFailed {
			return false
		}
		if err = s.start(t); err != nil {
			return false
		}
		t.state.Status = TaskStatusPending
		t.state.Progress = 0
		t.state.DownloadedBytes = 0
		t.state.TotalBytes = 0
		t.state.CachePath = ""
		t.state.Error = ""
		t.state.Warning = ""
		t.progress.Reset()
		return true
	}) {
		t.log.Info("task resumed")
	}
	return err
}

// CancelTask stops a task for good and deletes its cache files. It does nothing if the task is already final.
func (s *Session) CancelTask(id TaskID) error {
	t := s.tasks.get(id)
	if t == nil {
		return ErrUnknownTask
	}
	if t.mutate(func() bool {
		if t.state.Status.IsFinal() {
			return false
		}
		t.state.Status = TaskStatusCancelled
		return true
	}) {
		t.log.Info("task cancelled")
		_ = s.config.Workspace.RemoveTaskDir(string(t.id))
	}
	return nil
}

// RemoveTask forgets a task, cancelling it first if it is active. Output files are never deleted.
func (s *Session) RemoveTask(id TaskID) error {
	t := s.tasks.remove(id)
	if t == nil {
		return ErrUnknownTask
	}
	t.mutate(func() bool {
		if t.state.Status.IsActive() {
			t.state.Status = TaskStatusCancelled
		}
		return true
	})
	t.mu.Lock()
	t.removed = true
	state := t.state
	t.events.Send(TaskRemoved{State: state})
	t.mu.Unlock()
	t.events.Close()
	if state.Status == TaskStatusCompleted && s.config.Workspace.InTaskDir(string(t.id), state.OutputPath) {
		// The output never left the cache
		t.log.Infow("keeping task dir holding output", "path", state.OutputPath)
	} else {
		_ = s.config.Workspace.RemoveTaskDir(string(t.id))
	}
	t.log.Info("task removed")
	return nil
}

// DeleteOutput deletes the output file of a completed task.
func (s *Session) DeleteOutput(id TaskID) error {
	t := s.tasks.get(id)
	if t == nil {
		return ErrUnknownTask
	}
	state := t.snapshot()
	if state.Status != TaskStatusCompleted || state.OutputPath == "" {
		return fmt.Errorf("%w: task has no output", ErrInvalidRequest)
	}
	if err := os.Remove(state.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete output: %w", err)
	}
	t.log.Infow("output deleted", "path", state.OutputPath)
	if s.config.Workspace.InTaskDir(string(t.id), state.OutputPath) {
		s.config.Workspace.PruneTaskDir(string(t.id))
	}
	return nil
}

// Close stops every pipeline, waits for them to exit, and closes all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ctxCancel()
	s.running.Wait()
	for _, t := range s.tasks.clear() {
		t.events.Close()
	}
	s.events.Close()
	s.helpers.Wait()
}

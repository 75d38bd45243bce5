package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader/generic"
	"github.com/alanbriolat/video-downloader/internal/progress"
	"github.com/alanbriolat/video-downloader/internal/pubsub"
)

type TaskID string

func NewTaskID() TaskID {
	return TaskID(generic.Unwrap(uuid.NewRandom()).String())
}

type TaskKind string

const (
	TaskKindVideo     TaskKind = "video"
	TaskKindAudio     TaskKind = "audio"
	TaskKindMerge     TaskKind = "merge"
	TaskKindThumbnail TaskKind = "thumbnail"
)

var taskKinds = generic.NewSet(TaskKindVideo, TaskKindAudio, TaskKindMerge, TaskKindThumbnail)

func (k TaskKind) IsValid() bool {
	return taskKinds.Contains(k)
}

type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusMerging     TaskStatus = "merging"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusCancelled   TaskStatus = "cancelled"
	TaskStatusPaused      TaskStatus = "paused"
)

var finalStatuses = generic.NewSet(
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
)

var activeStatuses = generic.NewSet(
	TaskStatusPending,
	TaskStatusDownloading,
	TaskStatusMerging,
)

// IsFinal returns true if no pipeline will ever change a task with this status again. Only ResumeTask leaves
// TaskStatusFailed.
func (s TaskStatus) IsFinal() bool {
	return finalStatuses.Contains(s)
}

// IsActive returns true if a pipeline is (or is about to be) working on the task.
func (s TaskStatus) IsActive() bool {
	return activeStatuses.Contains(s)
}

// TaskState is a snapshot of a task. It is a comparable value; observers always receive copies.
type TaskState struct {
	ID           TaskID    `json:"id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Kind         TaskKind  `json:"kind"`
	Selector     string    `json:"selector,omitempty"`
	AddedAt      time.Time `json:"added_at"`

	Status TaskStatus `json:"status"`
	// Progress percentage, 0-100.
	Progress        int   `json:"progress"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	// TotalBytes is 0 when unknown.
	TotalBytes int64  `json:"total_bytes"`
	CachePath  string `json:"cache_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// StatusText renders a short human-readable status, e.g. "Downloading 45% (4.5 MB / 10 MB)".
func (s TaskState) StatusText() string {
	switch s.Status {
	case TaskStatusPending:
		return "Waiting"
	case TaskStatusDownloading:
		text := fmt.Sprintf("Downloading %d%%", s.Progress)
		if s.TotalBytes > 0 {
			text += fmt.Sprintf(" (%s / %s)", humanize.Bytes(uint64(s.DownloadedBytes)), humanize.Bytes(uint64(s.TotalBytes)))
		} else if s.DownloadedBytes > 0 {
			text += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(s.DownloadedBytes)))
		}
		return text
	case TaskStatusMerging:
		return "Merging"
	case TaskStatusCompleted:
		if s.Warning != "" {
			return "Completed with warning: " + s.Warning
		}
		return "Completed"
	case TaskStatusFailed:
		return "Failed: " + s.Error
	case TaskStatusCancelled:
		return "Cancelled"
	case TaskStatusPaused:
		return fmt.Sprintf("Paused at %d%%", s.Progress)
	default:
		return strings.ToUpper(string(s.Status))
	}
}

// TaskRequest describes a task to create.
type TaskRequest struct {
	VideoID      string   `json:"video_id" validate:"required"`
	Title        string   `json:"title"`
	ThumbnailURL string   `json:"thumbnail_url" validate:"omitempty,url"`
	Kind         TaskKind `json:"kind" validate:"required,oneof=video audio merge thumbnail"`
	// Selector is a format ID for video and audio, or "<video>+<audio>" for merge.
	Selector string `json:"selector"`
}

// runHandle identifies one run of a task's pipeline. Callbacks from a run that is no longer the task's current handle
// are ignored.
type runHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	// Closed when the run's goroutine has exited.
	done chan struct{}
}

type task struct {
	// Immutable
	id           TaskID
	videoID      string
	title        string
	thumbnailURL string
	kind         TaskKind
	selector     string
	addedAt      time.Time

	mu       sync.Mutex
	state    TaskState
	handle   *runHandle
	lastRun  *runHandle
	removed  bool
	progress progress.Monotonic

	events pubsub.Publisher[Event]
	log    *zap.SugaredLogger
}

func newTask(req TaskRequest, log *zap.SugaredLogger) *task {
	id := NewTaskID()
	t := &task{
		id:           id,
		videoID:      req.VideoID,
		title:        req.Title,
		thumbnailURL: req.ThumbnailURL,
		kind:         req.Kind,
		selector:     req.Selector,
		addedAt:      time.Now(),
		events:       pubsub.NewPublisher[Event](),
		log:          log.With("task_id", id),
	}
	t.state = TaskState{
		ID:           t.id,
		VideoID:      t.videoID,
		Title:        t.title,
		ThumbnailURL: t.thumbnailURL,
		Kind:         t.kind,
		Selector:     t.selector,
		AddedAt:      t.addedAt,
		Status:       TaskStatusPending,
	}
	return t
}

func (t *task) String() string {
	return fmt.Sprintf("Task{ID:\"%s\", VideoID:\"%s\", Kind:\"%s\"}", t.id, t.videoID, t.kind)
}

func (t *task) snapshot() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// mutate runs f under the task lock. If f returns true, the handle is released when the new status has no running
// pipeline, and TaskUpdated is published if the state changed.
func (t *task) mutate(f func() bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return false
	}
	old := t.state
	if !f() {
		return false
	}
	if !t.state.Status.IsActive() && t.handle != nil {
		t.handle.cancel()
		t.handle = nil
	}
	if t.state != old {
		t.events.Send(TaskUpdated{OldState: old, NewState: t.state})
	}
	return true
}

// update applies f on behalf of the run identified by h. It returns false, without calling f, if h is stale or the
// task is final.
func (t *task) update(h *runHandle, f func(*TaskState)) bool {
	return t.mutate(func() bool {
		if t.handle != h || t.state.Status.IsFinal() {
			return false
		}
		f(&t.state)
		return true
	})
}

// setProgress raises the progress percentage, never lowering it. Must hold t.mu.
func (t *task) setProgress(percent int) {
	if t.progress.Update(percent) {
		t.state.Progress = t.progress.Value()
	}
}

// Package journal keeps an append-only sqlite log of task events, for diagnosing what happened to a download after
// the fact.
package journal

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	"github.com/alanbriolat/video-downloader/internal/pubsub"
	"github.com/alanbriolat/video-downloader/internal/session"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     string    `json:"task_id"`
	VideoID    string    `json:"video_id"`
	Title      string    `json:"title"`
	Event      EventType `json:"event"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	// Changes is a JSON-encoded diff.Changelog from the previous state, for updates.
	Changes   string    `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Entry) TableName() string {
	return "journal_entry"
}

// Changelog decodes Changes.
func (e *Entry) Changelog() (diff.Changelog, error) {
	var changelog diff.Changelog
	if e.Changes == "" {
		return changelog, nil
	}
	if err := json.Unmarshal([]byte(e.Changes), &changelog); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return changelog, nil
}

type Journal struct {
	db   *gorm.DB
	log  *zap.SugaredLogger
	runs sync.WaitGroup
}

// Open opens (creating if necessary) the journal database at path, and brings its schema up to date.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormLogger := zapgorm2.New(logger.Named("gorm"))
	gormLogger.IgnoreRecordNotFoundError = true
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	j := &Journal{db: db, log: logger.Named("journal").Sugar()}
	if err := j.migrate(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	// Not closing m, which would close the shared *sql.DB
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch {
	case err == nil:
		j.log.Info("journal migration complete")
	case errors.Is(err, migrate.ErrNoChange):
		j.log.Debug("no journal migration required")
	default:
		return err
	}
	return nil
}

// Close waits for every Run to return before closing the database, so the subscriptions feeding Run must be closed
// first.
func (j *Journal) Close() error {
	j.runs.Wait()
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewEntry builds the journal entry for an event. Updates that only move progress forward are not worth keeping, and
// give false.
func NewEntry(e session.Event) (Entry, bool, error) {
	var entry Entry
	var state session.TaskState
	switch e := e.(type) {
	case session.TaskAdded:
		entry.Event = EventAdded
		state = e.State
	case session.TaskRemoved:
		entry.Event = EventRemoved
		state = e.State
	case session.TaskUpdated:
		if !e.StatusChanged() && e.OldState.Error == e.NewState.Error && e.OldState.OutputPath == e.NewState.OutputPath {
			return entry, false, nil
		}
		entry.Event = EventUpdated
		state = e.NewState
		changelog, err := diff.Diff(e.OldState, e.NewState)
		if err != nil {
			return entry, false, fmt.Errorf("failed to diff task state: %w", err)
		}
		changes, err := json.Marshal(changelog)
		if err != nil {
			return entry, false, fmt.Errorf("failed to encode changes: %w", err)
		}
		entry.Changes = string(changes)
	default:
		return entry, false, fmt.Errorf("unexpected event type %T", e)
	}
	entry.TaskID = string(state.ID)
	entry.VideoID = state.VideoID
	entry.Title = state.Title
	entry.Status = string(state.Status)
	entry.Error = state.Error
	entry.OutputPath = state.OutputPath
	return entry, true, nil
}

// Record appends an entry for the event, if it is worth keeping.
func (j *Journal) Record(e session.Event) error {
	entry, ok, err := NewEntry(e)
	if err != nil || !ok {
		return err
	}
	if err := j.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Run records every event from the receiver until the receiver is closed. Failures are logged and skipped.
//
// A session publisher blocks on a full subscription, so Run keeps draining for as long as the subscription is open:
// the final events of a session being shut down (cancellations, removals) are recorded too.
func (j *Journal) Run(events pubsub.ReceiverCloser[session.Event]) {
	j.runs.Add(1)
	defer j.runs.Done()
	defer events.Close()
	for e := range events.Receive() {
		if err := j.Record(e); err != nil {
			j.log.Warnw("failed to record event", "task_id", e.TaskID(), "error", err)
		}
	}
}

// List returns the entries for a task in the order they were recorded, or every entry if taskID is "".
func (j *Journal) List(taskID string) ([]Entry, error) {
	var entries []Entry
	query := j.db.Order("id")
	if taskID != "" {
		query = query.Where("task_id = ?", taskID)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	return entries, nil
}

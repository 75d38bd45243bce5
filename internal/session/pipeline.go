package session

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/download"
	"github.com/alanbriolat/video-downloader/internal/progress"
)

// run executes one run of a task's pipeline. prev is the task's previous run, if any, which must exit first so that
// the two never share the working directory.
func (s *Session) run(t *task, h *runHandle, prev *runHandle) {
	if prev != nil {
		select {
		case <-prev.done:
		case <-h.ctx.Done():
			return
		}
	}
	defer func() {
		if t.snapshot().Status == TaskStatusCancelled {
			_ = s.config.Workspace.RemoveTaskDir(string(t.id))
		}
	}()

	// Wait for a free slot while PENDING; pause and cancel interrupt this
	if err := s.slots.Acquire(h.ctx, 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	// Every run starts from scratch
	_ = s.config.Workspace.RemoveTaskDir(string(t.id))
	dir, err := s.config.Workspace.CreateTaskDir(string(t.id))
	if err != nil {
		s.fail(t, h, err)
		return
	}

	switch t.kind {
	case TaskKindVideo, TaskKindAudio:
		err = s.runSingle(t, h, dir)
	case TaskKindMerge:
		err = s.runMerge(t, h, dir)
	case TaskKindThumbnail:
		err = s.runThumbnail(t, h, dir)
	default:
		err = fmt.Errorf("unknown task kind %q", t.kind)
	}
	if err != nil {
		s.fail(t, h, err)
	}
}

func (t *task) nameArgs() video_downloader.NameArgs {
	return video_downloader.NameArgs{TaskID: string(t.id), VideoID: t.videoID, Title: t.title}
}

func (s *Session) setDownloading(t *task, h *runHandle) bool {
	return t.update(h, func(state *TaskState) {
		state.Status = TaskStatusDownloading
	})
}

// fetch downloads one stream, reporting progress mapped through stage. Files polled for progress are those whose names
// start with prefix.
func (s *Session) fetch(t *task, h *runHandle, selector string, template string, stage progress.Stage) (string, error) {
	prefix := filepath.Base(template)
	// Byte counts belong to one stream
	t.update(h, func(state *TaskState) {
		state.DownloadedBytes = 0
		state.TotalBytes = 0
	})
	stopPolling := s.poll(t, h, prefix, stage)
	defer stopPolling()

	t.log.Debugw("fetching", "selector", selector, "template", template)
	ctx := video_downloader.WithLogger(h.ctx, t.log.Desugar())
	path, err := s.config.Fetcher.Fetch(ctx, video_downloader.FetchRequest{
		VideoID:        t.videoID,
		Selector:       selector,
		OutputTemplate: template,
		Cookies:        s.config.Credentials.Value(),
	}, func(p video_downloader.FetchProgress) {
		t.reportProgress(h, stage, p)
	})
	if err != nil {
		return "", err
	}
	t.update(h, func(state *TaskState) {
		state.CachePath = path
		t.setProgress(stage.To)
	})
	return path, nil
}

func (s *Session) runSingle(t *task, h *runHandle, dir string) error {
	name, err := s.config.Naming.MediaName(t.nameArgs())
	if err != nil {
		return err
	}
	if !s.setDownloading(t, h) {
		return nil
	}
	path, err := s.fetch(t, h, t.selector, filepath.Join(dir, name), progress.Whole)
	if err != nil {
		return err
	}
	s.complete(t, h, path, "")
	return nil
}

func (s *Session) runMerge(t *task, h *runHandle, dir string) error {
	videoSelector, audioSelector, _ := splitMergeSelector(t.selector)
	args := t.nameArgs()
	videoName, err := s.config.Naming.PartName(args, "video")
	if err != nil {
		return err
	}
	audioName, err := s.config.Naming.PartName(args, "audio")
	if err != nil {
		return err
	}
	mediaName, err := s.config.Naming.MediaName(args)
	if err != nil {
		return err
	}

	if !s.setDownloading(t, h) {
		return nil
	}
	videoPath, err := s.fetch(t, h, videoSelector, filepath.Join(dir, videoName), progress.Stage{From: 0, To: 50})
	if err != nil {
		return fmt.Errorf("video download failed: %w", err)
	}
	audioPath, err := s.fetch(t, h, audioSelector, filepath.Join(dir, audioName), progress.Stage{From: 50, To: 100})
	if err != nil {
		return fmt.Errorf("audio download failed: %w", err)
	}

	if !t.update(h, func(state *TaskState) {
		state.Status = TaskStatusMerging
		t.setProgress(100)
	}) {
		return nil
	}
	if s.config.Muxer == nil {
		return s.muxFailed(t, h, videoPath, errors.New("no muxer configured"))
	}
	outputPath := filepath.Join(dir, mediaName+mergedExtension(videoPath, audioPath))
	if err := s.config.Muxer.Mux(h.ctx, videoPath, audioPath, outputPath); err != nil {
		return s.muxFailed(t, h, videoPath, err)
	}
	s.complete(t, h, outputPath, "")
	return nil
}

func (s *Session) muxFailed(t *task, h *runHandle, videoPath string, err error) error {
	if h.ctx.Err() != nil {
		return err
	}
	if s.config.MuxFailure == MuxFailureDegrade {
		t.log.Warnw("merge failed, keeping video without audio", "error", err)
		s.complete(t, h, videoPath, fmt.Sprintf("merge failed, saved video without audio: %v", err))
		return nil
	}
	return fmt.Errorf("merge failed: %w", err)
}

// mergedExtension picks a container that can hold both streams without re-encoding.
func mergedExtension(videoPath string, audioPath string) string {
	video, audio := filepath.Ext(videoPath), filepath.Ext(audioPath)
	switch {
	case video == ".mp4" && (audio == ".m4a" || audio == ".mp4"):
		return ".mp4"
	case video == ".webm" && audio == ".webm":
		return ".webm"
	default:
		return ".mkv"
	}
}

func (s *Session) runThumbnail(t *task, h *runHandle, dir string) error {
	name, err := s.config.Naming.ThumbnailName(t.nameArgs())
	if err != nil {
		return err
	}
	if !s.setDownloading(t, h) {
		return nil
	}
	d := video_downloader.NewDownloadBuilder().
		WithContext(video_downloader.WithLogger(h.ctx, t.log.Desugar())).
		WithHTTPClient(s.config.HTTPClient).
		WithTargetDir(dir).
		WithExtensionFunc(video_downloader.ImageExtension).
		WithProgressCallback(func(downloaded int64, expected int64) {
			t.reportProgress(h, progress.Whole, video_downloader.FetchProgress{
				Percent:    progress.Percent(downloaded, expected),
				Downloaded: downloaded,
				Total:      expected,
			})
		}).
		Build()
	path, err := d.SaveURL(name, t.thumbnailURL)
	if err != nil {
		return err
	}
	s.complete(t, h, path, "")
	return nil
}

// complete relocates the artifact to the output directory and marks the task COMPLETED. If relocation fails the task
// still completes, with the artifact left where it is.
func (s *Session) complete(t *task, h *runHandle, path string, warning string) {
	if h.ctx.Err() != nil {
		return
	}
	outputPath, err := s.config.Workspace.Relocate(path)
	relocated := err == nil
	if err != nil {
		if errors.Is(err, download.ErrSourceMissing) {
			t.log.Warnw("artifact missing, cannot relocate", "path", path)
		} else {
			t.log.Warnw("failed to relocate artifact", "path", path, "error", err)
		}
		outputPath = path
	}
	if !t.update(h, func(state *TaskState) {
		state.Status = TaskStatusCompleted
		state.OutputPath = outputPath
		state.Warning = warning
		t.setProgress(100)
	}) {
		// Paused or cancelled while relocating: the artifact goes back to the cache, which a cancelled run clears
		if relocated {
			if restored, err := s.config.Workspace.Restore(outputPath, string(t.id)); err != nil {
				t.log.Warnw("failed to move artifact back to cache", "path", outputPath, "error", err)
			} else {
				t.log.Debugw("task stopped while relocating", "path", restored)
			}
		}
		return
	}
	t.log.Infow("task completed", "path", outputPath)
	if relocated {
		_ = s.config.Workspace.RemoveTaskDir(string(t.id))
	}
}

// fail marks the task FAILED, unless the run was stopped, in which case the error is expected and dropped.
func (s *Session) fail(t *task, h *runHandle, err error) {
	if h.ctx.Err() != nil {
		t.log.Debugw("dropping error from stopped run", "error", err)
		return
	}
	if t.update(h, func(state *TaskState) {
		state.Status = TaskStatusFailed
		state.Error = err.Error()
	}) {
		t.log.Warnw("task failed", "error", err)
	}
}

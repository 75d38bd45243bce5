package session

import (
	"context"
	"time"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/progress"
)

// reportProgress applies a progress report from a Fetcher. A raw output line is parsed for whatever it carries; the
// percentage is mapped through stage and never goes backwards.
func (t *task) reportProgress(h *runHandle, stage progress.Stage, p video_downloader.FetchProgress) {
	if p.Line != "" {
		if sample, ok := progress.ParseLine(p.Line); ok {
			if sample.HasPercent() {
				p.Percent = sample.Percent
			}
			if sample.Total > 0 {
				p.Total = sample.Total
			}
			if sample.Downloaded > 0 {
				p.Downloaded = sample.Downloaded
			}
		} else if p.Percent < 0 && p.Downloaded == 0 && p.Total == 0 {
			return
		}
	}
	if p.Percent < 0 && p.Total > 0 && p.Downloaded > 0 {
		p.Percent = progress.Percent(p.Downloaded, p.Total)
	}
	t.mutate(func() bool {
		if t.handle != h || t.state.Status != TaskStatusDownloading {
			return false
		}
		if p.Downloaded > 0 {
			t.state.DownloadedBytes = p.Downloaded
		}
		if p.Total > 0 {
			t.state.TotalBytes = p.Total
		}
		if p.Percent >= 0 {
			t.setProgress(stage.Map(p.Percent))
		}
		return true
	})
}

// pollSize applies the on-disk size of the files being downloaded.
func (t *task) pollSize(h *runHandle, stage progress.Stage, size int64) {
	t.mutate(func() bool {
		if t.handle != h || t.state.Status != TaskStatusDownloading {
			return false
		}
		t.state.DownloadedBytes = size
		if t.state.TotalBytes > 0 {
			t.setProgress(stage.Map(progress.Percent(size, t.state.TotalBytes)))
		}
		return true
	})
}

// poll starts checking the size of the task's files whose names start with prefix, every PollInterval, until the
// returned function is called or the run stops.
func (s *Session) poll(t *task, h *runHandle, prefix string, stage progress.Stage) (stop func()) {
	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if size := s.config.Workspace.TaskDirSize(string(t.id), prefix); size > 0 {
					t.pollSize(h, stage, size)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

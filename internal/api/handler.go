package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/session"
)

type resolveRequest struct {
	URL string `json:"url" validate:"required"`
}

type videoResponse struct {
	*video_downloader.VideoInfo
	DurationSeconds int    `json:"duration_seconds"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	BestVideo       string `json:"best_video,omitempty"`
	BestAudio       string `json:"best_audio,omitempty"`
}

func newVideoResponse(info *video_downloader.VideoInfo) videoResponse {
	resp := videoResponse{
		VideoInfo:       info,
		DurationSeconds: int(info.Duration.Seconds()),
		Thumbnail:       info.BestThumbnail(),
	}
	if f, ok := video_downloader.BestVideo(info.Formats); ok {
		resp.BestVideo = f.ID
	}
	if f, ok := video_downloader.BestAudio(info.Formats); ok {
		resp.BestAudio = f.ID
	}
	return resp
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.session.ResolveURL(r.Context(), req.URL)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(info))
}

type taskResponse struct {
	session.TaskState
	StatusText string `json:"status_text"`
}

func newTaskResponse(state session.TaskState) taskResponse {
	return taskResponse{TaskState: state, StatusText: state.StatusText()}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.session.ListTasks()
	resp := make([]taskResponse, 0, len(tasks))
	for _, state := range tasks {
		resp = append(resp, newTaskResponse(state))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req session.TaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.session.CreateTask(req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Infow("task created", "task_id", id, "video_id", req.VideoID, "kind", req.Kind)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": id,
	})
}

type thumbnailRequest struct {
	VideoID      string `json:"video_id" validate:"required"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url" validate:"required,url"`
}

func (s *Server) createThumbnailTask(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.session.CreateThumbnailTask(req.VideoID, req.Title, req.ThumbnailURL)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": id,
	})
}

func taskID(r *http.Request) session.TaskID {
	return session.TaskID(chi.URLParam(r, "taskID"))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	state, err := s.session.GetTask(taskID(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(state))
}

// removeTask forgets a task. With ?output=true the completed output file is deleted too.
func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	if r.URL.Query().Get("output") == "true" {
		if err := s.session.DeleteOutput(id); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	if err := s.session.RemoveTask(id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskAction adapts a session operation on a single task to a handler that responds with the task's new state.
func (s *Server) taskAction(action func(session.TaskID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := taskID(r)
		if err := action(id); err != nil {
			s.writeErr(w, err)
			return
		}
		s.getTask(w, r)
	}
}

func (s *Server) taskHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	entries, err := s.journal.List(string(taskID(r)))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type credentialRequest struct {
	Cookies string `json:"cookies" validate:"required"`
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"stored": s.credentials.Value() != "",
		"valid":  s.credentials.HasValid(),
	})
}

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.credentials.Save(req.Cookies); err != nil {
		if errors.Is(err, credential.ErrUnusable) {
			s.log.Warn("saved credential is missing required cookies")
		}
		s.writeErr(w, err)
		return
	}
	s.log.Info("credential saved")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.credentials.Clear(); err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Info("credential cleared")
	w.WriteHeader(http.StatusNoContent)
}

type settingRequest struct {
	Value string `json:"value"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if !s.decode(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.settings.Set(key, req.Value); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Current())
}

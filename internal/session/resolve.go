package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanbriolat/video-downloader"
)

// Resolve fetches metadata and formats for a video. If the Extractor needs authentication and a Login hook is
// configured, the hook is called, its credential stored, and the resolve retried once. No task is created.
func (s *Session) Resolve(ctx context.Context, videoID string) (*video_downloader.VideoInfo, error) {
	if s.config.Extractor == nil {
		return nil, errors.New("no extractor configured")
	}
	info, err := s.config.Extractor.Resolve(ctx, videoID, s.config.Credentials.Value())
	if errors.Is(err, video_downloader.ErrAuthRequired) && s.config.Login != nil {
		s.log.Infow("authentication required, logging in", "video_id", videoID)
		blob, loginErr := s.config.Login(ctx)
		if loginErr != nil {
			return nil, fmt.Errorf("login failed: %w", loginErr)
		}
		if saveErr := s.config.Credentials.Save(blob); saveErr != nil {
			return nil, fmt.Errorf("login failed: %w", saveErr)
		}
		info, err = s.config.Extractor.Resolve(ctx, videoID, blob)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", videoID, err)
	}
	return info, nil
}

// ResolveURL matches a URL (or bare video ID) against the configured providers and resolves the video it refers to.
func (s *Session) ResolveURL(ctx context.Context, url string) (*video_downloader.VideoInfo, error) {
	match, err := s.config.Providers.Match(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.Resolve(ctx, match.VideoID)
}

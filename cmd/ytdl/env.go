package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/download"
	"github.com/alanbriolat/video-downloader/internal/boltdb"
	"github.com/alanbriolat/video-downloader/internal/config"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/ffmpeg"
	"github.com/alanbriolat/video-downloader/internal/journal"
	"github.com/alanbriolat/video-downloader/internal/session"
	"github.com/alanbriolat/video-downloader/internal/settings"
	"github.com/alanbriolat/video-downloader/internal/ytdlp"
	"github.com/alanbriolat/video-downloader/provider/youtube"
)

// environment holds everything commands share, opened before any command runs.
type environment struct {
	config      *config.Config
	logger      *zap.Logger
	db          boltdb.Database
	settings    *settings.Manager
	credentials *credential.Credentials
	journal     *journal.Journal
	undoStdLog  func()
}

func (e *environment) open(configPath string, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	e.config = cfg

	if e.logger, err = cfg.NewLogger(); err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	e.undoStdLog = zap.RedirectStdLog(e.logger)
	zap.ReplaceGlobals(e.logger)

	if e.db, err = boltdb.New(cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if e.settings, err = settings.NewManager(e.db); err != nil {
		return err
	}
	e.credentials = credential.New(e.db)
	return nil
}

func (e *environment) close() error {
	var result error
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
	if e.undoStdLog != nil {
		e.undoStdLog()
	}
	return result
}

// openJournal opens the journal if one is configured, returning nil if not.
func (e *environment) openJournal() (*journal.Journal, error) {
	if e.journal != nil || e.config.JournalPath == "" {
		return e.journal, nil
	}
	j, err := journal.Open(e.config.JournalPath, e.logger)
	if err != nil {
		return nil, err
	}
	e.journal = j
	return j, nil
}

type backend interface {
	video_downloader.Extractor
	video_downloader.Fetcher
}

func (e *environment) backend() backend {
	switch e.config.Backend {
	case "ytdlp":
		return &ytdlp.Client{
			Path:     e.config.YtdlpPath,
			Logger:   e.logger.Named("ytdlp"),
			Settings: e.settings.Current,
		}
	default:
		return &youtube.Client{
			Logger: e.logger.Named("youtube"),
			Proxy:  e.settings.Current().Proxy,
		}
	}
}

type sessionOptions struct {
	outputDir   string
	interactive bool
	notifier    session.Notifier
}

func (e *environment) newSession(ctx context.Context, opts sessionOptions) (*session.Session, error) {
	outputDir := opts.outputDir
	if outputDir == "" {
		outputDir = e.config.OutputDir
	}
	workspace, err := download.NewWorkspace(
		download.WithCacheDir(e.config.CacheDir),
		download.WithOutputDir(outputDir),
		download.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	b := e.backend()
	cfg := session.Config{
		Extractor:     b,
		Fetcher:       b,
		Muxer:         &ffmpeg.Muxer{Path: e.config.FfmpegPath, Logger: e.logger.Named("ffmpeg")},
		Workspace:     workspace,
		Credentials:   e.credentials,
		Logger:        e.logger,
		PollInterval:  e.config.PollInterval,
		MuxFailure:    session.MuxFailurePolicy(e.config.MuxFailure),
		MaxConcurrent: e.settings.Current().MaxConcurrent,
		Notifier:      opts.notifier,
	}
	if opts.interactive {
		cfg.Login = promptLogin
	}
	sess, err := session.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	j, err := e.openJournal()
	if err != nil {
		sess.Close()
		return nil, err
	}
	if j != nil {
		sub, err := sess.Subscribe()
		if err != nil {
			sess.Close()
			return nil, err
		}
		// Runs until the session closes the subscription
		go j.Run(sub)
	}
	return sess, nil
}

// promptLogin asks the user to paste the cookies of a signed-in browser session.
func promptLogin(ctx context.Context) (string, error) {
	fmt.Fprintln(os.Stderr, "YouTube requires you to sign in.")
	fmt.Fprintln(os.Stderr, "Paste the Cookie header of a signed-in youtube.com request, then press Enter:")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no cookies entered: %w", err)
	}
	blob := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "Cookie:"))
	if blob == "" {
		return "", errors.New("no cookies entered")
	}
	return blob, nil
}

// logNotifier shows notifications as log messages.
type logNotifier struct {
	log *zap.SugaredLogger
}

func (n logNotifier) Notify(text string) {
	n.log.Info(text)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/alanbriolat/video-downloader"
	"github.com/alanbriolat/video-downloader/internal/api"
	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/session"
	"github.com/alanbriolat/video-downloader/internal/settings"
	"github.com/alanbriolat/video-downloader/internal/sync_"
)

func formatsCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "formats",
		Usage:     "list the formats available for a video",
		ArgsUsage: "URL",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one URL", 2)
			}
			sess, err := env.newSession(c.Context, sessionOptions{interactive: true})
			if err != nil {
				return err
			}
			defer sess.Close()
			info, err := sess.ResolveURL(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", info.Title, info.ID)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUALITY\tCONTAINER\tSIZE")
			for _, f := range info.Formats {
				size := "-"
				if f.Size > 0 {
					size = humanize.Bytes(uint64(f.Size))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Label, f.Container, size)
			}
			return w.Flush()
		},
	}
}

// chooseRequest picks what to download when the user did not ask for a specific format: the configured video and
// audio qualities, merged when they are separate streams.
func chooseRequest(info *video_downloader.VideoInfo, s settings.Settings) session.TaskRequest {
	req := session.TaskRequest{VideoID: info.ID, Title: info.Title}
	video, hasVideo := findQuality(info.Formats, s.VideoQuality, video_downloader.BestVideo, func(f video_downloader.FormatOption) bool {
		return f.HasVideo && (strconv.Itoa(f.Height)+"p" == s.VideoQuality)
	})
	audio, hasAudio := findQuality(info.Formats, s.AudioQuality, video_downloader.BestAudio, func(f video_downloader.FormatOption) bool {
		return f.IsAudioOnly() && strings.Contains(f.Label, s.AudioQuality)
	})
	switch {
	case hasVideo && hasAudio && video.IsVideoOnly():
		req.Kind = session.TaskKindMerge
		req.Selector = video.ID + "+" + audio.ID
	case hasVideo:
		req.Kind = session.TaskKindVideo
		req.Selector = video.ID
	default:
		req.Kind = session.TaskKindVideo
	}
	return req
}

func findQuality(
	formats []video_downloader.FormatOption,
	quality string,
	best func([]video_downloader.FormatOption) (video_downloader.FormatOption, bool),
	matches func(video_downloader.FormatOption) bool,
) (video_downloader.FormatOption, bool) {
	if quality != settings.QualityBest {
		for _, f := range formats {
			if matches(f) {
				return f, true
			}
		}
	}
	return best(formats)
}

func downloadCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "download a video",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "download format `ID`, or \"VIDEO+AUDIO\" to merge two streams",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "`KIND` of download: video, audio or merge",
			},
			&cli.BoolFlag{
				Name:  "thumbnail",
				Usage: "also save the video's thumbnail",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "save downloaded files to `DIR` instead of the configured output directory",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one URL", 2)
			}
			return runDownload(c.Context, env, c.Args().First(), c.String("format"), c.String("kind"), c.Bool("thumbnail"), c.String("target"))
		},
	}
}

func runDownload(ctx context.Context, env *environment, url string, format string, kind string, thumbnail bool, target string) error {
	logger := env.logger.Sugar()
	sess, err := env.newSession(ctx, sessionOptions{outputDir: target, interactive: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	logger.Infof("Resolving %s", url)
	info, err := sess.ResolveURL(ctx, url)
	if err != nil {
		return err
	}

	req := chooseRequest(info, env.settings.Current())
	if format != "" {
		req.Selector = format
		req.Kind = session.TaskKindVideo
		if strings.Contains(format, "+") {
			req.Kind = session.TaskKindMerge
		}
	}
	if kind != "" {
		req.Kind = session.TaskKind(kind)
		if req.Kind == session.TaskKindAudio && format == "" {
			req.Selector = ""
			if f, ok := video_downloader.BestAudio(info.Formats); ok {
				req.Selector = f.ID
			}
		}
	}

	var ids []session.TaskID
	id, err := sess.CreateTask(req)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	if thumbnail {
		if thumbnailURL := info.BestThumbnail(); thumbnailURL == "" {
			logger.Warn("video has no thumbnail")
		} else if id, err := sess.CreateThumbnailTask(info.ID, info.Title, thumbnailURL); err != nil {
			return err
		} else {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		state, err := waitForTask(ctx, env, sess, id)
		if err != nil {
			return err
		}
		switch state.Status {
		case session.TaskStatusCompleted:
			if state.Warning != "" {
				logger.Warn(state.Warning)
			}
			logger.Infof("Saved %s", state.OutputPath)
		case session.TaskStatusFailed:
			return fmt.Errorf("download failed: %s", state.Error)
		default:
			logger.Infof("Download %s", state.StatusText())
		}
	}
	return nil
}

// waitForTask shows a progress bar for a task until it reaches a final status, cancelling it if ctx is done first.
func waitForTask(ctx context.Context, env *environment, sess *session.Session, id session.TaskID) (session.TaskState, error) {
	logger := env.logger.Sugar()
	events, err := sess.Subscribe(id)
	if err != nil {
		return session.TaskState{}, err
	}
	defer events.Close()

	state, err := sess.GetTask(id)
	if err != nil {
		return state, err
	}
	bar := progressbar.DefaultBytes(-1, state.Title)
	defer func() { _ = bar.Finish() }()

	var stopped sync_.Event
	for !state.Status.IsFinal() && !stopped.IsSet() {
		select {
		case <-ctx.Done():
			logger.Info("Exiting gracefully...")
			_ = sess.CancelTask(id)
			stopped.Set()
		case event, ok := <-events.Receive():
			if !ok {
				stopped.Set()
				break
			}
			e, isUpdate := event.(session.TaskUpdated)
			if !isUpdate {
				continue
			}
			logChanges(env, e)
			state = e.NewState
			if state.TotalBytes > 0 && bar.GetMax64() != state.TotalBytes {
				bar.ChangeMax64(state.TotalBytes)
			}
			if e.StatusChanged() {
				bar.Describe(fmt.Sprintf("%s: %s", state.Title, state.StatusText()))
			}
			_ = bar.Set64(state.DownloadedBytes)
		}
	}
	return sess.GetTask(id)
}

func logChanges(env *environment, e session.TaskUpdated) {
	logger := env.logger.Sugar()
	changes, err := diff.Diff(e.OldState, e.NewState)
	if err != nil {
		logger.Errorf("failed to diff old and new task state: %v", err)
		return
	}
	for _, change := range changes {
		logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
	}
}

func loginCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "store YouTube session cookies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cookies",
				Usage: "cookie `BLOB` in \"name=value; name2=value2\" form",
			},
			&cli.StringFlag{
				Name:  "cookies-file",
				Usage: "read the cookie blob from `FILE` (\"-\" for stdin)",
			},
		},
		Action: func(c *cli.Context) error {
			blob := c.String("cookies")
			if path := c.String("cookies-file"); path != "" {
				var data []byte
				var err error
				if path == "-" {
					data, err = io.ReadAll(os.Stdin)
				} else {
					data, err = os.ReadFile(path)
				}
				if err != nil {
					return fmt.Errorf("failed to read cookies: %w", err)
				}
				blob = string(data)
			}
			if blob == "" {
				var err error
				if blob, err = promptLogin(c.Context); err != nil {
					return err
				}
			}
			if err := env.credentials.Save(strings.TrimSpace(blob)); err != nil {
				if errors.Is(err, credential.ErrUnusable) {
					return fmt.Errorf("cookies saved, but %w (need %s)", err, strings.Join(credential.RequiredCookies, ", "))
				}
				return err
			}
			env.logger.Info("Logged in")
			return nil
		},
	}
}

func logoutCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget stored YouTube session cookies",
		Action: func(c *cli.Context) error {
			if err := env.credentials.Clear(); err != nil {
				return err
			}
			env.logger.Info("Logged out")
			return nil
		},
	}
}

func settingsCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "show or change download settings",
		Action: func(c *cli.Context) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, key := range settings.Keys() {
				value, _ := env.settings.Get(key)
				fmt.Fprintf(w, "%s\t%s\n", key, value)
			}
			return w.Flush()
		},
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "show one setting",
				ArgsUsage: "KEY",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected KEY", 2)
					}
					value, err := env.settings.Get(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(value)
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "change one setting",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("expected KEY VALUE", 2)
					}
					return env.settings.Set(c.Args().Get(0), c.Args().Get(1))
				},
			},
		},
	}
}

func serveCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen on `ADDR` instead of the configured address",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			logger := env.logger.Sugar()
			sess, err := env.newSession(ctx, sessionOptions{notifier: logNotifier{log: logger.Named("notify")}})
			if err != nil {
				return err
			}
			defer sess.Close()

			server := api.NewServer(api.Config{
				Session:     sess,
				Credentials: env.credentials,
				Settings:    env.settings,
				Journal:     env.journal,
				Logger:      env.logger,
			})
			addr := c.String("addr")
			if addr == "" {
				addr = env.config.HTTPAddr
			}
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Infow("starting HTTP server", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("HTTP server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
				logger.Info("shutting down HTTP server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
}

func historyCommand(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show the journal of task events",
		ArgsUsage: "[TASK_ID]",
		Action: func(c *cli.Context) error {
			j, err := env.openJournal()
			if err != nil {
				return err
			}
			if j == nil {
				return cli.Exit("journal is disabled", 1)
			}
			entries, err := j.List(c.Args().First())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTASK\tEVENT\tSTATUS\tTITLE\tDETAIL")
			for _, entry := range entries {
				detail := entry.Error
				if detail == "" {
					detail = entry.OutputPath
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					entry.CreatedAt.Local().Format(time.DateTime),
					entry.TaskID,
					entry.Event,
					entry.Status,
					entry.Title,
					detail,
				)
			}
			return w.Flush()
		},
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-downloader/async"
	_ "github.com/alanbriolat/video-downloader/provider/youtube"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env := &environment{}
	app := &cli.App{
		Name:  "ytdl",
		Usage: "download videos, audio and thumbnails from YouTube",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"YTDL_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Before: func(c *cli.Context) error {
			return env.open(c.String("config"), c.String("log-level"))
		},
		After: func(c *cli.Context) error {
			return env.close()
		},
		Commands: []*cli.Command{
			formatsCommand(env),
			downloadCommand(env),
			loginCommand(env),
			logoutCommand(env),
			settingsCommand(env),
			serveCommand(env),
			historyCommand(env),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.RunContext(ctx, os.Args) })

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		err = <-result
	}
	if err != nil {
		if env.logger != nil {
			env.logger.Error(err.Error())
		} else {
			log.Println(err)
		}
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	assert := assert_.New(t)
	chdir(t, t.TempDir())
	t.Setenv(EnvConfigFile, "")

	c, err := Load("")
	assert.Nil(err)
	assert.Equal(Default(), *c)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	assert.Nil(os.WriteFile(path, []byte("outputDir: /videos\nbackend: ytdlp\npollInterval: 2s\nmuxFailure: degrade\n"), 0644))
	t.Setenv("YTDL_BACKEND", "youtube")

	c, err := Load(path)
	assert.Nil(err)
	assert.Equal("/videos", c.OutputDir)
	assert.Equal("youtube", c.Backend)
	assert.Equal(2*time.Second, c.PollInterval)
	assert.Equal("degrade", c.MuxFailure)
	assert.Equal("ffmpeg", c.FfmpegPath)
}

func TestLoad_DotEnv(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	chdir(t, dir)
	assert.Nil(os.WriteFile(filepath.Join(dir, ".env"), []byte("YTDL_LOG_LEVEL=debug\n"), 0644))
	t.Setenv("YTDL_LOG_LEVEL", "")
	os.Unsetenv("YTDL_LOG_LEVEL")

	c, err := Load("")
	assert.Nil(err)
	assert.Equal("debug", c.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")

	assert.Nil(os.WriteFile(path, []byte("unknownKey: 1\n"), 0644))
	_, err := Load(path)
	assert.Error(err)

	assert.Nil(os.WriteFile(path, []byte("muxFailure: ignore\n"), 0644))
	_, err = Load(path)
	assert.Error(err)
}

func TestConfig_NewLogger(t *testing.T) {
	assert := assert_.New(t)
	c := Default()
	logger, err := c.NewLogger()
	assert.Nil(err)
	assert.NotNil(logger)

	c.LogFormat = "json"
	c.LogLevel = "warn"
	logger, err = c.NewLogger()
	assert.Nil(err)
	assert.False(logger.Core().Enabled(-1))

	c.LogLevel = "loud"
	_, err = c.NewLogger()
	assert.Error(err)
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

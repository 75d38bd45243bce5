package settings

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	assert := assert_.New(t)
	s := Defaults()
	assert.Nil(s.Validate())
	assert.Equal(uint64(0), s.SpeedLimitBytes())
	assert.Equal([]string{"audio_quality", "download_subtitles", "max_concurrent", "proxy", "speed_limit", "video_quality"}, Keys())
}

func TestSettings_GetSet(t *testing.T) {
	assert := assert_.New(t)
	s := Defaults()

	assert.Nil(s.Set("max_concurrent", "3"))
	v, err := s.Get("max_concurrent")
	assert.Nil(err)
	assert.Equal("3", v)

	assert.Nil(s.Set("speed_limit", "2MiB"))
	assert.Equal(uint64(2*1024*1024), s.SpeedLimitBytes())

	assert.Nil(s.Set("download_subtitles", "true"))
	assert.True(s.DownloadSubtitles)

	assert.Nil(s.Set("proxy", "socks5://127.0.0.1:9050"))
	assert.Equal("socks5://127.0.0.1:9050", s.Proxy)
}

func TestSettings_SetInvalid(t *testing.T) {
	assert := assert_.New(t)
	s := Defaults()

	assert.ErrorIs(s.Set("dark_mode", "true"), ErrUnknownKey)
	_, err := s.Get("nope")
	assert.ErrorIs(err, ErrUnknownKey)

	assert.ErrorIs(s.Set("max_concurrent", "zero"), ErrInvalidValue)
	assert.Error(s.Set("max_concurrent", "0"))
	assert.Error(s.Set("speed_limit", "fast"))
	assert.Error(s.Set("proxy", "not a url"))
	assert.Error(s.Set("download_subtitles", "maybe"))
	// Failed sets leave the settings unchanged
	assert.Equal(Defaults(), s)
}

func TestManager(t *testing.T) {
	assert := assert_.New(t)
	store := &MemoryStore{}

	m, err := NewManager(store)
	assert.Nil(err)
	assert.Equal(Defaults(), m.Current())

	assert.Nil(m.Set("video_quality", "1080p"))
	v, err := m.Get("video_quality")
	assert.Nil(err)
	assert.Equal("1080p", v)
	assert.Error(m.Set("max_concurrent", "100"))

	// Changes are persisted
	m2, err := NewManager(store)
	assert.Nil(err)
	assert.Equal("1080p", m2.Current().VideoQuality)
	assert.Equal(1, m2.Current().MaxConcurrent)
}

func TestManager_InvalidStored(t *testing.T) {
	assert := assert_.New(t)
	store := &MemoryStore{}
	assert.Nil(store.SaveSettings(&Settings{MaxConcurrent: -1}))
	m, err := NewManager(store)
	assert.Nil(err)
	assert.Equal(Defaults(), m.Current())
}

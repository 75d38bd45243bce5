package video_downloader

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestDedupFormats(t *testing.T) {
	assert := assert_.New(t)

	raw := []FormatOption{
		{ID: "136", Container: "mp4", HasVideo: true, Height: 720, Size: 100},
		{ID: "247", Container: "webm", HasVideo: true, Height: 720, Size: 200},
		{ID: "22", Container: "mp4", HasVideo: true, HasAudio: true, Height: 720, Size: 50},
		{ID: "137", Container: "mp4", HasVideo: true, Height: 1080},
		{ID: "248", Container: "webm", HasVideo: true, Height: 1080, Size: 300},
		{ID: "140", Container: "m4a", HasAudio: true, Bitrate: 128},
		{ID: "251", Container: "webm", HasAudio: true, Bitrate: 128},
		{ID: "250", Container: "webm", HasAudio: true, Bitrate: 64},
		{ID: "x", Container: "mp4"},
	}
	result := DedupFormats(raw)

	ids := make([]string, 0, len(result))
	for _, f := range result {
		ids = append(ids, f.ID)
	}
	// Muxed beats video-only at 720p; mp4 beats webm at 1080p despite unknown size; m4a beats webm at 128kbps
	assert.Equal([]string{"137", "22", "140", "250"}, ids)
}

func TestDedupFormats_SizeTiebreak(t *testing.T) {
	assert := assert_.New(t)

	result := DedupFormats([]FormatOption{
		{ID: "a", Container: "mp4", HasVideo: true, Height: 480, Size: 10},
		{ID: "b", Container: "mp4", HasVideo: true, Height: 480, Size: 20},
	})
	assert.Len(result, 1)
	assert.Equal("b", result[0].ID)
}

func TestBestVideoAudio(t *testing.T) {
	assert := assert_.New(t)

	formats := []FormatOption{
		{ID: "22", HasVideo: true, HasAudio: true, Height: 720},
		{ID: "136", HasVideo: true, Height: 720},
		{ID: "135", HasVideo: true, Height: 480},
		{ID: "140", HasAudio: true, Bitrate: 128},
		{ID: "139", HasAudio: true, Bitrate: 48},
	}
	v, ok := BestVideo(formats)
	assert.True(ok)
	assert.Equal("136", v.ID)
	a, ok := BestAudio(formats)
	assert.True(ok)
	assert.Equal("140", a.ID)

	_, ok = BestAudio(formats[:3])
	assert.False(ok)
	f, ok := FindFormat(formats, "135")
	assert.True(ok)
	assert.Equal(480, f.Height)
}

func TestLabels(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("720p", VideoLabel(720, false))
	assert.Equal("1080p (with audio)", VideoLabel(1080, true))
	assert.Equal("medium 128kbps", AudioLabel("medium", 128))
	assert.Equal("64kbps", AudioLabel("", 64))
}

func TestVideoInfo_BestThumbnail(t *testing.T) {
	assert := assert_.New(t)
	info := VideoInfo{Thumbnails: []Thumbnail{
		{URL: "small", Width: 120, Height: 90},
		{URL: "large", Width: 1280, Height: 720},
		{URL: "medium", Width: 480, Height: 360},
	}}
	assert.Equal("large", info.BestThumbnail())
	assert.Equal("", (&VideoInfo{}).BestThumbnail())
}

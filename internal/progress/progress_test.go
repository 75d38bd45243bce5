package progress

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

const MiB = 1024 * 1024

func TestParseLine_YtdlpProgress(t *testing.T) {
	assert := assert_.New(t)

	s, ok := ParseLine("[download]  45.2% of ~ 10.50MiB at  1.20MiB/s ETA 00:05")
	assert.True(ok)
	assert.InDelta(45.2, s.Percent, 0.001)
	assert.Equal(int64(10.5*MiB), s.Total)
	assert.InDelta(0.452*10.5*MiB, float64(s.Downloaded), 1)

	s, ok = ParseLine("[download] 100% of 10.50MiB in 00:03")
	assert.True(ok)
	assert.Equal(100.0, s.Percent)
	assert.Equal(s.Total, s.Downloaded)
}

func TestParseLine_DownloadedOf(t *testing.T) {
	assert := assert_.New(t)

	s, ok := ParseLine("downloaded 4.2MiB of 10.5MiB")
	assert.True(ok)
	assert.InDelta(4.2*MiB, float64(s.Downloaded), 1)
	assert.Equal(int64(10.5*MiB), s.Total)
	assert.InDelta(40.0, s.Percent, 0.01)

	s, ok = ParseLine("Downloaded 100 bytes of 400 bytes")
	assert.True(ok)
	assert.Equal(int64(100), s.Downloaded)
	assert.Equal(int64(400), s.Total)
	assert.Equal(25.0, s.Percent)
}

func TestParseLine_PartialInformation(t *testing.T) {
	assert := assert_.New(t)

	// Percent only: total stays unknown
	s, ok := ParseLine("[download]  12.0% at 500KiB/s")
	assert.True(ok)
	assert.Equal(12.0, s.Percent)
	assert.Equal(int64(0), s.Total)
	assert.Equal(int64(0), s.Downloaded)

	// Total only: percent stays unknown
	s, ok = ParseLine("[download] Downloading item of 1.5 MB")
	assert.True(ok)
	assert.False(s.HasPercent())
	assert.Equal(int64(1500000), s.Total)

	// Out of range percentages are clamped
	s, ok = ParseLine("progress 120%")
	assert.True(ok)
	assert.Equal(100.0, s.Percent)
}

func TestParseLine_NoProgress(t *testing.T) {
	assert := assert_.New(t)
	for _, line := range []string{
		"",
		"[youtube] abc: Downloading webpage",
		"[download] Destination: /cache/abc.mp4",
		"of course",
	} {
		_, ok := ParseLine(line)
		assert.False(ok, line)
	}
}

func TestPercent(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(-1.0, Percent(10, 0))
	assert.Equal(50.0, Percent(5, 10))
	assert.Equal(100.0, Percent(20, 10))
}

func TestStage_Map(t *testing.T) {
	assert := assert_.New(t)
	video := Stage{From: 0, To: 50}
	audio := Stage{From: 50, To: 100}
	assert.Equal(0, video.Map(0))
	assert.Equal(25, video.Map(50))
	assert.Equal(50, video.Map(100))
	assert.Equal(50, audio.Map(0))
	assert.Equal(75, audio.Map(50))
	assert.Equal(100, audio.Map(100))
	assert.Equal(100, Whole.Map(150))
}

func TestMonotonic(t *testing.T) {
	assert := assert_.New(t)
	var m Monotonic
	assert.True(m.Update(60))
	assert.False(m.Update(40))
	assert.False(m.Update(60))
	assert.Equal(60, m.Value())
	m.Reset()
	assert.True(m.Update(40))
}

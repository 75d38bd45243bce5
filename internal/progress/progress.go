// Package progress turns free-text progress output of external download tools into numbers, and maps per-stage
// progress onto a task's overall percentage.
package progress

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	rePercent = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	// "of 10.50MiB", "of ~ 10.50MiB", "of 10.5 MB"
	reOf = regexp.MustCompile(`\bof\s+~?\s*([0-9]+(?:\.[0-9]+)?)\s*([kKMGTP]i?B|B|bytes)\b`)
	// "downloaded 4.2MiB", "downloaded 100 bytes"
	reDownloaded = regexp.MustCompile(`(?i)\bdownloaded\s+([0-9]+(?:\.[0-9]+)?)\s*([kKMGTP]i?B|B|bytes)\b`)
)

// Sample is what could be recovered from one line of output. Percent is negative when the line had no percentage;
// Downloaded and Total are 0 when unknown.
type Sample struct {
	Percent    float64
	Downloaded int64
	Total      int64
}

func (s Sample) HasPercent() bool {
	return s.Percent >= 0
}

// ParseLine extracts progress from a line such as
//
//	[download]  45.2% of ~ 10.50MiB at 1.20MiB/s ETA 00:05
//	[download] 100% of 10.50MiB in 00:03
//	downloaded 4.2MiB of 10.5MiB
//
// It returns false if the line carries no progress at all. A total without a percentage or downloaded amount is still
// a useful sample. When percent and total are both known but not the downloaded amount, Downloaded is derived.
func ParseLine(line string) (Sample, bool) {
	s := Sample{Percent: -1}
	found := false

	if m := rePercent.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.Percent = clamp(v)
			found = true
		}
	}
	if m := reOf.FindStringSubmatch(line); m != nil {
		if v, ok := parseBytes(m[1], m[2]); ok {
			s.Total = v
			found = true
		}
	}
	if m := reDownloaded.FindStringSubmatch(line); m != nil {
		if v, ok := parseBytes(m[1], m[2]); ok {
			s.Downloaded = v
			found = true
		}
	}

	if s.Downloaded == 0 && s.Total > 0 && s.HasPercent() {
		s.Downloaded = int64(float64(s.Total) * s.Percent / 100)
	}
	if !s.HasPercent() && s.Total > 0 && s.Downloaded > 0 {
		s.Percent = clamp(float64(s.Downloaded) * 100 / float64(s.Total))
	}
	return s, found
}

func parseBytes(number string, unit string) (int64, bool) {
	if strings.EqualFold(unit, "bytes") {
		unit = "B"
	}
	v, err := humanize.ParseBytes(number + " " + unit)
	if err != nil {
		return 0, false
	}
	return int64(v), true
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Percent computes a percentage from byte counts, or -1 if total is unknown.
func Percent(downloaded int64, total int64) float64 {
	if total <= 0 {
		return -1
	}
	return clamp(float64(downloaded) * 100 / float64(total))
}

// Stage maps the progress of one stage onto an overall percentage. A two-stage pipeline uses Stage{0, 50} and
// Stage{50, 100}.
type Stage struct {
	From int
	To   int
}

var Whole = Stage{From: 0, To: 100}

func (s Stage) Map(percent float64) int {
	return s.From + int(clamp(percent)*float64(s.To-s.From)/100)
}

// Monotonic only ever moves forward.
type Monotonic struct {
	value int
}

// Update raises the value to v if v is larger, and reports whether it changed.
func (m *Monotonic) Update(v int) bool {
	if v <= m.value {
		return false
	}
	m.value = v
	return true
}

func (m *Monotonic) Value() int {
	return m.value
}

func (m *Monotonic) Reset() {
	m.value = 0
}

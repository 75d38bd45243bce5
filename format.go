package video_downloader

import (
	"fmt"
	"sort"
)

var videoContainerRank = map[string]int{"mp4": 0, "webm": 1}
var audioContainerRank = map[string]int{"m4a": 0, "mp4": 0, "webm": 1}

func containerRank(ranks map[string]int, container string) int {
	if r, ok := ranks[container]; ok {
		return r
	}
	return len(ranks)
}

// VideoLabel builds the label of a video stream, e.g. "720p" or "720p (with audio)".
func VideoLabel(height int, withAudio bool) string {
	label := fmt.Sprintf("%dp", height)
	if withAudio {
		label += " (with audio)"
	}
	return label
}

// AudioLabel builds the label of an audio stream, e.g. "medium 128kbps".
func AudioLabel(quality string, bitrate int) string {
	if quality == "" {
		return fmt.Sprintf("%dkbps", bitrate)
	}
	return fmt.Sprintf("%s %dkbps", quality, bitrate)
}

// betterVideo reports whether a is preferable to b for the same resolution.
func betterVideo(a, b FormatOption) bool {
	if a.HasAudio != b.HasAudio {
		return a.HasAudio
	}
	if ra, rb := containerRank(videoContainerRank, a.Container), containerRank(videoContainerRank, b.Container); ra != rb {
		return ra < rb
	}
	return a.Size > b.Size
}

// betterAudio reports whether a is preferable to b for the same bitrate.
func betterAudio(a, b FormatOption) bool {
	if ra, rb := containerRank(audioContainerRank, a.Container), containerRank(audioContainerRank, b.Container); ra != rb {
		return ra < rb
	}
	return a.Size > b.Size
}

// DedupFormats collapses raw formats to at most one option per video resolution and at most one per audio bitrate.
// Within a resolution a muxed stream beats video-only, then a more compatible container wins, then the larger size.
// The result lists video options by descending height, followed by audio-only options by descending bitrate.
func DedupFormats(raw []FormatOption) []FormatOption {
	videos := make(map[int]FormatOption)
	audios := make(map[int]FormatOption)
	for _, f := range raw {
		switch {
		case f.HasVideo && f.Height > 0:
			if cur, ok := videos[f.Height]; !ok || betterVideo(f, cur) {
				videos[f.Height] = f
			}
		case f.IsAudioOnly() && f.Bitrate > 0:
			if cur, ok := audios[f.Bitrate]; !ok || betterAudio(f, cur) {
				audios[f.Bitrate] = f
			}
		}
	}

	result := make([]FormatOption, 0, len(videos)+len(audios))
	for _, f := range videos {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Height > result[j].Height })
	audioStart := len(result)
	for _, f := range audios {
		result = append(result, f)
	}
	audioOnly := result[audioStart:]
	sort.Slice(audioOnly, func(i, j int) bool { return audioOnly[i].Bitrate > audioOnly[j].Bitrate })
	return result
}

// BestVideo returns the highest resolution video-only format, falling back to the highest resolution muxed format.
func BestVideo(formats []FormatOption) (FormatOption, bool) {
	var best FormatOption
	found := false
	for _, f := range formats {
		if !f.HasVideo {
			continue
		}
		if !found || f.Height > best.Height || (f.Height == best.Height && best.HasAudio && !f.HasAudio) {
			best, found = f, true
		}
	}
	return best, found
}

// BestAudio returns the highest bitrate audio-only format.
func BestAudio(formats []FormatOption) (FormatOption, bool) {
	var best FormatOption
	found := false
	for _, f := range formats {
		if f.IsAudioOnly() && (!found || f.Bitrate > best.Bitrate) {
			best, found = f, true
		}
	}
	return best, found
}

// FindFormat returns the format with the given selector ID.
func FindFormat(formats []FormatOption, id string) (FormatOption, bool) {
	for _, f := range formats {
		if f.ID == id {
			return f, true
		}
	}
	return FormatOption{}, false
}

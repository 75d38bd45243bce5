package video_downloader

import (
	"strings"
	"text/template"

	"github.com/gosimple/slug"
)

const (
	maxSafeTitleLength = 50
	fallbackSafeTitle  = "video"
)

// SafeTitle turns a video title into something usable as a file name: a slug of at most 50 characters.
func SafeTitle(title string) string {
	s := slug.Make(title)
	if len(s) > maxSafeTitleLength {
		s = strings.TrimRight(s[:maxSafeTitleLength], "-")
	}
	if s == "" {
		return fallbackSafeTitle
	}
	return s
}

// NameArgs are the values available to file name templates.
type NameArgs struct {
	TaskID  string
	VideoID string
	Title   string
	// Part is "video" or "audio" for the separate streams of a merge.
	Part string
}

func (a NameArgs) SafeTitle() string {
	return SafeTitle(a.Title)
}

// NamingConfig holds the templates used to name downloaded files, without extension.
type NamingConfig struct {
	Media     *template.Template
	Thumbnail *template.Template
	Part      *template.Template
}

func NewNamingConfig() *NamingConfig {
	return &NamingConfig{
		Media:     template.Must(template.New("media").Parse("{{.SafeTitle}}")),
		Thumbnail: template.Must(template.New("thumbnail").Parse("{{.SafeTitle}}_cover")),
		Part:      template.Must(template.New("part").Parse("{{.TaskID}}_{{.Part}}")),
	}
}

func (c *NamingConfig) MediaName(args NameArgs) (string, error) {
	return execute(c.Media, args)
}

func (c *NamingConfig) ThumbnailName(args NameArgs) (string, error) {
	return execute(c.Thumbnail, args)
}

func (c *NamingConfig) PartName(args NameArgs, part string) (string, error) {
	args.Part = part
	return execute(c.Part, args)
}

func execute(t *template.Template, args NameArgs) (string, error) {
	builder := strings.Builder{}
	if err := t.Execute(&builder, &args); err != nil {
		return "", err
	} else {
		return builder.String(), nil
	}
}

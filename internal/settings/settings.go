// Package settings holds the user-adjustable download preferences.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
)

const (
	QualityBest    = "best"
	SpeedUnlimited = "unlimited"
)

var (
	ErrUnknownKey   = errors.New("unknown settings key")
	ErrInvalidValue = errors.New("invalid settings value")
)

type Settings struct {
	VideoQuality      string `json:"video_quality" validate:"required"`
	AudioQuality      string `json:"audio_quality" validate:"required"`
	MaxConcurrent     int    `json:"max_concurrent" validate:"min=1,max=10"`
	SpeedLimit        string `json:"speed_limit" validate:"required,speedlimit"`
	DownloadSubtitles bool   `json:"download_subtitles"`
	Proxy             string `json:"proxy" validate:"omitempty,url"`
}

func Defaults() Settings {
	return Settings{
		VideoQuality:      QualityBest,
		AudioQuality:      QualityBest,
		MaxConcurrent:     1,
		SpeedLimit:        SpeedUnlimited,
		DownloadSubtitles: false,
		Proxy:             "",
	}
}

// SpeedLimitBytes returns the speed limit in bytes per second, or 0 for unlimited.
func (s Settings) SpeedLimitBytes() uint64 {
	v, _ := parseSpeedLimit(s.SpeedLimit)
	return v
}

func parseSpeedLimit(s string) (uint64, error) {
	if s == "" || s == SpeedUnlimited {
		return 0, nil
	}
	return humanize.ParseBytes(s)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("speedlimit", func(fl validator.FieldLevel) bool {
		_, err := parseSpeedLimit(fl.Field().String())
		return err == nil
	})
	return v
}

func (s *Settings) Validate() error {
	return validate.Struct(s)
}

type field struct {
	get func(*Settings) string
	set func(*Settings, string) error
}

var fields = map[string]field{
	"video_quality": {
		get: func(s *Settings) string { return s.VideoQuality },
		set: func(s *Settings, v string) error { s.VideoQuality = v; return nil },
	},
	"audio_quality": {
		get: func(s *Settings) string { return s.AudioQuality },
		set: func(s *Settings, v string) error { s.AudioQuality = v; return nil },
	},
	"max_concurrent": {
		get: func(s *Settings) string { return strconv.Itoa(s.MaxConcurrent) },
		set: func(s *Settings, v string) (err error) { s.MaxConcurrent, err = strconv.Atoi(v); return err },
	},
	"speed_limit": {
		get: func(s *Settings) string { return s.SpeedLimit },
		set: func(s *Settings, v string) error { s.SpeedLimit = v; return nil },
	},
	"download_subtitles": {
		get: func(s *Settings) string { return strconv.FormatBool(s.DownloadSubtitles) },
		set: func(s *Settings, v string) (err error) { s.DownloadSubtitles, err = strconv.ParseBool(v); return err },
	},
	"proxy": {
		get: func(s *Settings) string { return s.Proxy },
		set: func(s *Settings, v string) error { s.Proxy = v; return nil },
	},
}

// Keys lists the settings keys in alphabetical order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a setting by key, formatted as a string.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(s), nil
}

// Set parses and validates a setting by key. The settings are unchanged if an error is returned.
func (s *Settings) Set(key string, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	updated := *s
	if err := f.set(&updated, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidValue, key, err)
	}
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidValue, key, err)
	}
	*s = updated
	return nil
}

// Store persists Settings.
type Store interface {
	// LoadSettings returns (nil, nil) if nothing is stored.
	LoadSettings() (*Settings, error)
	SaveSettings(*Settings) error
}

// Manager gives concurrent access to the current settings, writing changes through to a Store.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	current Settings
}

// NewManager loads stored settings, falling back to Defaults for anything missing or invalid.
func NewManager(store Store) (*Manager, error) {
	m := &Manager{store: store, current: Defaults()}
	stored, err := store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if stored != nil && stored.Validate() == nil {
		m.current = *stored
	}
	return m, nil
}

// Current returns a copy of the current settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Get(key string) (string, error) {
	current := m.Current()
	return current.Get(key)
}

func (m *Manager) Set(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := m.current
	if err := updated.Set(key, value); err != nil {
		return err
	}
	if err := m.store.SaveSettings(&updated); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	m.current = updated
	return nil
}

// MemoryStore is a Store that does not persist anything.
type MemoryStore struct {
	mu    sync.Mutex
	value *Settings
}

func (s *MemoryStore) LoadSettings() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return nil, nil
	}
	v := *s.value
	return &v, nil
}

func (s *MemoryStore) SaveSettings(v *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *v
	s.value = &copied
	return nil
}

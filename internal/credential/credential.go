// Package credential stores the browser session cookies used to authenticate against YouTube, and converts them to
// the forms that download backends need.
package credential

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
)

const (
	CookieDomain    = ".youtube.com"
	cookieJarHeader = "# Netscape HTTP Cookie File\n# https://www.youtube.com\n\n"
)

// RequiredCookies must all be present for a credential to be usable.
var RequiredCookies = []string{"SAPISID", "SID"}

var (
	ErrUnusable = errors.New("credential is missing required session cookies")
)

type Cookie struct {
	Name  string
	Value string
}

// ParseCookies splits a "name=value; name2=value2" blob. Entries without "=" or without a name are skipped.
func ParseCookies(blob string) []Cookie {
	var cookies []Cookie
	for _, part := range strings.Split(blob, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return cookies
}

// IsUsable reports whether the blob contains every cookie in RequiredCookies.
func IsUsable(blob string) bool {
	names := make(map[string]bool)
	for _, c := range ParseCookies(blob) {
		names[c.Name] = true
	}
	for _, required := range RequiredCookies {
		if !names[required] {
			return false
		}
	}
	return true
}

// ToCookieJar converts the blob to the Netscape cookies.txt format read by yt-dlp and similar tools.
func ToCookieJar(blob string) string {
	b := strings.Builder{}
	b.WriteString(cookieJarHeader)
	for _, c := range ParseCookies(blob) {
		fmt.Fprintf(&b, "%s\tTRUE\t/\tTRUE\t0\t%s\t%s\n", CookieDomain, c.Name, c.Value)
	}
	return b.String()
}

// WriteCookieJar writes ToCookieJar(blob) to a new file in dir, returning its path. The caller removes the file.
func WriteCookieJar(blob string, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "cookies-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create cookie jar: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(ToCookieJar(blob)); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write cookie jar: %w", err)
	}
	return f.Name(), nil
}

// HTTPJar builds an http.CookieJar holding the blob's cookies for youtube.com.
func HTTPJar(blob string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	var cookies []*http.Cookie
	for _, c := range ParseCookies(blob) {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: CookieDomain,
			Path:   "/",
			Secure: true,
		})
	}
	jar.SetCookies(&url.URL{Scheme: "https", Host: "www.youtube.com", Path: "/"}, cookies)
	return jar, nil
}

// Store persists a single cookie blob.
type Store interface {
	// LoadCredential returns "" if nothing is stored.
	LoadCredential() (string, error)
	SaveCredential(blob string) error
	ClearCredential() error
}

// Credentials caches the stored credential in memory.
type Credentials struct {
	mu     sync.RWMutex
	store  Store
	value  string
	loaded bool
}

func New(store Store) *Credentials {
	return &Credentials{store: store}
}

func (c *Credentials) load() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return
	}
	if value, err := c.store.LoadCredential(); err == nil {
		c.value = value
		c.loaded = true
	}
}

// Value returns the stored blob, or "" if there is none.
func (c *Credentials) Value() string {
	c.load()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// HasValid reports whether a usable credential is stored.
func (c *Credentials) HasValid() bool {
	v := c.Value()
	return v != "" && IsUsable(v)
}

// Save overwrites the stored credential. Blobs that are not usable are still saved, so that a partial login can be
// inspected, but ErrUnusable is returned.
func (c *Credentials) Save(blob string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SaveCredential(blob); err != nil {
		return err
	}
	c.value = blob
	c.loaded = true
	if !IsUsable(blob) {
		return ErrUnusable
	}
	return nil
}

func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.ClearCredential(); err != nil {
		return err
	}
	c.value = ""
	c.loaded = true
	return nil
}

// MemoryStore is a Store that does not persist anything.
type MemoryStore struct {
	mu    sync.Mutex
	value string
}

func (s *MemoryStore) LoadCredential() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryStore) SaveCredential(blob string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = blob
	return nil
}

func (s *MemoryStore) ClearCredential() error {
	return s.SaveCredential("")
}

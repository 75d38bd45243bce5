package video_downloader

import (
	"errors"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func prefixMatcher(prefix string) MatchFunc {
	return func(s string) (string, error) {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix), nil
		}
		return "", errors.New("wrong prefix")
	}
}

func TestProviderRegistry_Add(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry

	assert.ErrorIs(r.Add(Provider{Name: "empty"}), ErrInvalidProvider)
	assert.Nil(r.Add(Provider{Name: "a", Match: prefixMatcher("a:")}))
	assert.ErrorIs(r.Add(Provider{Name: "a", Match: prefixMatcher("a:")}), ErrDuplicateProvider)
	assert.Nil(r.Add(Provider{Name: "b", Match: prefixMatcher("b:")}.WithPriority(PriorityHighest)))
	assert.Equal([]string{"b", "a"}, r.List())
	assert.Panics(func() { r.MustAdd(Provider{Name: "b", Match: prefixMatcher("b:")}) })
}

func TestProviderRegistry_Match(t *testing.T) {
	assert := assert_.New(t)
	var r ProviderRegistry
	r.MustAdd(Provider{Name: "a", Match: prefixMatcher("x")})
	r.MustAdd(Provider{Name: "b", Match: prefixMatcher("xy")}.WithPriority(PriorityHighest))

	// Priority decides between overlapping providers
	m, err := r.Match("xyz")
	assert.Nil(err)
	assert.Equal(&Match{ProviderName: "b", VideoID: "z"}, m)

	m, err = r.Match("xz")
	assert.Nil(err)
	assert.Equal("a", m.ProviderName)

	// Failure reports every provider's reason
	_, err = r.Match("nope")
	assert.ErrorIs(err, ErrNoMatch)
	assert.Contains(err.Error(), "[a]")
	assert.Contains(err.Error(), "[b]")

	m, err = r.MatchWith("a", "xyz")
	assert.Nil(err)
	assert.Equal("yz", m.VideoID)
	_, err = r.MatchWith("c", "xyz")
	assert.ErrorIs(err, ErrUnknownProvider)
	_, err = r.MatchWith("b", "xz")
	assert.ErrorIs(err, ErrNoMatch)
}

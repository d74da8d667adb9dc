package shorturl

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tempizhere/shortenurl/internal/models"
)

// sequenceTokens выдаёт предсказуемые токены для тестов
func sequenceTokens() TokenFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("tok%d", n)
	}
}

func TestExtractScheme(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com", "https"},
		{"http://example.com:8080/x", "http"},
		{"didcomm://invite?oob=abc", "didcomm"},
		{"no-scheme", "no-scheme"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractScheme(tt.url))
		})
	}
}

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://example.com/page", true},
		{"https://example.com?oob=eyJ0eXBlIjoiIn0", true},
		{"didcomm://example.org?_oob=abc", true},
		{"example.com", false},
		{"not a url", false},
		{"https://", false},
		{" https://example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidURL(tt.url))
		})
	}
}

func TestIsValidSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"", true},
		{"abc", true},
		{"A-b_C-123", true},
		{"with space", false},
		{"slash/slug", false},
		{"query?x", false},
		{"ünicode", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidSlug(tt.slug))
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name        string
		strategy    models.GoalCode
		baseURL     string
		slug        string
		expected    string
		expectedErr error
	}{
		{"Shorten with slug", models.GoalShorten, "https://s.example", "abc", "https://s.example/abc", nil},
		{"Shorten without slug", models.GoalShorten, "https://s.example", "", "https://s.example/tok1", nil},
		{"OobV1 with slug", models.GoalShortenOobV1, "http://s.example", "abc", "http://s.example/abc", nil},
		{"OobV1 without slug", models.GoalShortenOobV1, "http://s.example", "", "http://s.example/tok1", nil},
		{"OobV2 with slug", models.GoalShortenOobV2, "https://s.example", "abc", "https://s.example/abc?_oobid=tok1", nil},
		{"OobV2 without slug", models.GoalShortenOobV2, "https://s.example", "", "https://s.example?_oobid=tok1", nil},
		{"Unsupported strategy", models.GoalCode("other"), "https://s.example", "", "", ErrUnsupportedStrategy},
		{"Unsupported scheme", models.GoalShorten, "didcomm://s.example", "abc", "", ErrUnsupportedScheme},
		{"Missing base URL", models.GoalShorten, "", "abc", "", ErrMissingBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Build(tt.strategy, tt.baseURL, tt.slug, sequenceTokens())
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBuild_DeterministicWithSlug(t *testing.T) {
	for _, strategy := range []models.GoalCode{models.GoalShorten, models.GoalShortenOobV1} {
		first, err := Build(strategy, "https://s.example", "fixed", nil)
		require.NoError(t, err)
		second, err := Build(strategy, "https://s.example", "fixed", nil)
		require.NoError(t, err)
		assert.Equal(t, first, second, "strategy %s must be deterministic with slug", strategy)

		random1, err := Build(strategy, "https://s.example", "", nil)
		require.NoError(t, err)
		random2, err := Build(strategy, "https://s.example", "", nil)
		require.NoError(t, err)
		assert.NotEqual(t, random1, random2)
		assert.True(t, strings.HasPrefix(random1, "https://s.example/"))
	}
}

func TestBuild_OobV2AlwaysFresh(t *testing.T) {
	first, err := Build(models.GoalShortenOobV2, "https://s.example", "abc", nil)
	require.NoError(t, err)
	second, err := Build(models.GoalShortenOobV2, "https://s.example", "abc", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "https://s.example/abc?_oobid="))
}

func TestIsResolvable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	states := []models.State{
		models.StateRequestReceived,
		models.StateShortenedURLSent,
		models.StateInvalidateReceived,
		models.StateInvalidated,
		models.StateRequestSent,
		models.StateShortenedURLReceived,
		models.StateInvalidateSent,
	}

	for _, state := range states {
		for _, expires := range []*time.Time{nil, &past, &future} {
			rec := models.Negotiation{State: state, ExpiresAt: expires}
			expected := state == models.StateShortenedURLSent && (expires == nil || !expires.Before(now))
			assert.Equal(t, expected, IsResolvable(rec, now), "state=%s expires=%v", state, expires)
		}
	}
}

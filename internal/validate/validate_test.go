package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(Config{})
	require.NoError(t, err)
	return v
}

func TestCheckURL(t *testing.T) {
	t.Parallel()
	v := newValidator(t)

	require.NoError(t, v.CheckURL("https://www.youthjustice.qld.gov.au/programs"))
	require.NoError(t, v.CheckURL("http://example.org"))

	denied := []string{
		"mailto:info@example.org",
		"tel:+61700000000",
		"ftp://example.org/file",
		"https://www.facebook.com/somepage",
		"https://facebook.com/",
		"https://mobile.twitter.com/x",
		"https://instagram.com/p/1",
		"/relative/path",
		"http://[::1",
	}
	for _, raw := range denied {
		err := v.CheckURL(raw)
		require.ErrorIs(t, err, ingest.ErrDenied, raw)
		require.Equal(t, ingest.LinkStatusRejected, ingest.AsFailure(err).LinkStatus(), raw)
		require.False(t, ingest.AsFailure(err).CountsAgainstBreaker(), raw)
	}
}

func TestCheckContent(t *testing.T) {
	t.Parallel()
	v := newValidator(t)

	t.Run("relevant page passes", func(t *testing.T) {
		page := strings.Repeat("This page describes youth diversion programs run locally. ", 11)
		require.GreaterOrEqual(t, len(page), 600)
		require.NoError(t, v.CheckContent(page))
	})

	t.Run("short page fails", func(t *testing.T) {
		err := v.CheckContent(strings.Repeat("x", 200))
		require.ErrorIs(t, err, ingest.ErrContentQuality)
		require.Contains(t, err.Error(), "too short")
		require.True(t, ingest.AsFailure(err).CountsAgainstBreaker())
	})

	t.Run("whitespace does not count", func(t *testing.T) {
		err := v.CheckContent(strings.Repeat(" ", 400) + strings.Repeat("youth ", 30))
		require.EqualError(t, err, MsgTooShort)
	})

	t.Run("irrelevant page fails", func(t *testing.T) {
		err := v.CheckContent(strings.Repeat("Recipes for lemon cake and bread. ", 20))
		require.ErrorIs(t, err, ingest.ErrContentQuality)
		require.EqualError(t, err, MsgNoKeywords)
	})

	t.Run("keywords are case insensitive", func(t *testing.T) {
		page := strings.Repeat("Lorem ipsum dolor sit amet. ", 20) + "ABORIGINAL"
		require.NoError(t, v.CheckContent(page))
	})
}

func TestNewCustomConfig(t *testing.T) {
	t.Parallel()
	v, err := New(Config{MinLength: 10, Keywords: []string{"bail"}, Denylist: []string{}})
	require.NoError(t, err)
	require.Equal(t, 10, v.MinLength())
	require.NoError(t, v.CheckURL("https://facebook.com/page"))
	require.NoError(t, v.CheckContent("bail support"))
	require.Error(t, v.CheckContent("youth justice"))

	_, err = New(Config{Keywords: []string{" "}})
	require.Error(t, err)
}

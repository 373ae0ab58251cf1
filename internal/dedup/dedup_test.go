package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

func seedEntry(t *testing.T, s *store.MemorySet, url, digest string, date time.Time) {
	t.Helper()
	urlkey, err := cdx.CanonicalizeURL(url)
	require.NoError(t, err)
	line, err := cdx.Line(urlkey, cdx.FormatTimestamp(date), cdx.Entry{
		URL: url, Mime: "text/html", Status: 200, Digest: digest,
	})
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), cdx.DefaultNamespace, line))
}

func TestLookupRevisitsOnMatchingDigest(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()
	orig := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	seedEntry(t, s, "http://example.com/a", "sha1:MATCH", orig)

	r := NewResolver(s, nil)
	decision, err := r.Lookup(ctx, "sha1:MATCH", "http://example.com/a", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Revisit, decision.Action)
	require.Equal(t, "http://example.com/a", decision.OrigURL)
	require.True(t, decision.OrigDate.Equal(orig))
}

func TestLookupWritesOnNoMatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()
	seedEntry(t, s, "http://example.com/a", "sha1:OLD", time.Now())

	r := NewResolver(s, nil)
	decision, err := r.Lookup(ctx, "sha1:NEW", "http://example.com/a", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Write, decision.Action)
}

func TestLookupWritesWhenNamespaceEmpty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()

	r := NewResolver(s, nil)
	decision, err := r.Lookup(ctx, "sha1:ANY", "http://example.com/never-seen", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Write, decision.Action)
}

func TestLookupSkipsOnlyWhenSkipFuncConfigured(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()

	blocked := NewResolver(s, nil, WithSkipFunc(func(url string) bool { return url == "http://example.com/blocked" }))
	decision, err := blocked.Lookup(ctx, "sha1:X", "http://example.com/blocked", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Skip, decision.Action)

	plain := NewResolver(s, nil)
	decision, err = plain.Lookup(ctx, "sha1:X", "http://example.com/blocked", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Write, decision.Action, "without a SkipFunc, Skip must never be produced")
}

func TestLookupDistinguishesDifferentURLs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemorySet()
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedEntry(t, s, "http://example.com/a", "sha1:SAME", date)

	r := NewResolver(s, nil)
	decision, err := r.Lookup(ctx, "sha1:SAME", "http://example.com/b", time.Now())
	require.NoError(t, err)
	require.Equal(t, warc.Write, decision.Action, "a different URL with the same digest must not revisit")
}

// Package dedup implements the lookup that decides whether a response
// payload should be written in full, skipped, or replaced with a revisit
// record.
package dedup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/store"
	"github.com/markb/warcrecorder/internal/warc"
)

// SkipFunc lets configuration override the default write/revisit decision
// for a URL (e.g. "don't record duplicate URLs at all"). No default
// SkipFunc triggers Skip — it is a hook, not a behavior, per §9's Open
// Question ("the Skip result path in dedup is referenced but never
// produced").
type SkipFunc func(url string) bool

// Resolver implements warc.Dedup against an ordered key–member set.
type Resolver struct {
	store     store.OrderedSet
	namespace string
	skip      SkipFunc
	log       *logrus.Entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSkipFunc installs a SkipFunc; without one, Skip is never returned.
func WithSkipFunc(f SkipFunc) Option {
	return func(r *Resolver) { r.skip = f }
}

// WithNamespace overrides the default CDXJ namespace key.
func WithNamespace(ns string) Option {
	return func(r *Resolver) { r.namespace = ns }
}

// NewResolver returns a Resolver consulting s under cdx.DefaultNamespace.
func NewResolver(s store.OrderedSet, log *logrus.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	r := &Resolver{store: s, namespace: cdx.DefaultNamespace, log: log.WithField("component", "dedup")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup implements warc.Dedup: canonicalize the URL, scan the exact-urlkey
// lex range for a matching payload digest, and return the first match
// (stable lex order) as a Revisit, or Write if none match.
func (r *Resolver) Lookup(ctx context.Context, payloadDigest, url string, now time.Time) (warc.Decision, error) {
	if r.skip != nil && r.skip(url) {
		return warc.Decision{Action: warc.Skip}, nil
	}

	urlkey, err := cdx.CanonicalizeURL(url)
	if err != nil {
		return warc.Decision{}, err
	}
	start, end := cdx.ExactRange(urlkey)

	lines, err := r.store.RangeByLex(ctx, r.namespace, start, end)
	if err != nil {
		if ctx.Err() != nil {
			// §5: cancellation during dedup lookup degrades to Write.
			return warc.Decision{Action: warc.Write}, nil
		}
		r.log.WithError(err).WithField("url", url).Warn("dedup: lookup failed, writing in full")
		return warc.Decision{Action: warc.Write}, nil
	}

	for _, line := range lines {
		key, timestamp, entry, err := cdx.ParseLine(line)
		if err != nil {
			r.log.WithError(err).Warn("dedup: skipping malformed CDXJ line")
			continue
		}
		// The lex range also admits longer urlkeys sharing this prefix.
		if key != urlkey {
			continue
		}
		if !digestEqual(entry.Digest, payloadDigest) {
			continue
		}
		origDate, err := cdx.ParseTimestamp(timestamp)
		if err != nil {
			r.log.WithError(err).Warn("dedup: skipping entry with unparseable timestamp")
			continue
		}
		return warc.Decision{Action: warc.Revisit, OrigURL: entry.URL, OrigDate: origDate}, nil
	}

	return warc.Decision{Action: warc.Write}, nil
}

func digestEqual(a, b string) bool {
	return a != "" && a == b
}

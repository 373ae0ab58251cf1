// Package sink implements the RecorderSink variants: given a finished
// recorder.Recorder, build its WARC records, write each as its own gzip
// member somewhere durable, and index it for later dedup/replay lookups.
// The three variants differ only in where a record's bytes land; all three
// share the build→gzip→index pipeline.
package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/warc"
	"github.com/markb/warcrecorder/internal/warc/gzipmember"
)

// member is a record serialized as its own gzip member, ready to be placed
// by a writer.
type member struct {
	record *warc.Record
	bytes  []byte
}

// placement records where a member ended up: offset/length within filename,
// the coordinates a CDXJ entry needs.
type placement struct {
	offset   int64
	length   int64
	filename string
}

// writer places one gzip-wrapped member and reports where it landed.
type writer interface {
	place(ctx context.Context, m member) (placement, error)
}

// base wires the shared build→gzip→index pipeline around a variant-specific
// writer.
type base struct {
	builder *warc.Builder
	indexer *cdx.Indexer
	write   writer
	log     *logrus.Entry
}

func newBase(builder *warc.Builder, indexer *cdx.Indexer, w writer, log *logrus.Logger) base {
	if log == nil {
		log = logrus.New()
	}
	return base{builder: builder, indexer: indexer, write: w, log: log.WithField("component", "sink")}
}

// Emit implements recorder.Sink: build the record set, gzip-wrap and place
// each one, then index it. Builder.Build already orders response/revisit
// before request, which Emit preserves by writing in that order.
func (b *base) Emit(ctx context.Context, rec *recorder.Recorder) error {
	result, err := b.builder.Build(ctx, rec)
	if err != nil {
		return fmt.Errorf("sink: build records: %w", err)
	}
	if result.Skipped {
		b.log.WithField("url", rec.URL()).Debug("sink: dedup skip, nothing written")
		return nil
	}

	for _, r := range result.Records {
		m, err := gzipWrap(r)
		if err != nil {
			return fmt.Errorf("sink: gzip-wrap record: %w", err)
		}
		p, err := b.write.place(ctx, m)
		if err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{"url": rec.URL(), "record_type": r.Type}).Error("sink: write record failed")
			return fmt.Errorf("sink: write record: %w", err)
		}
		b.indexer.IndexRecord(ctx, r, p.offset, p.length, p.filename)
	}
	return nil
}

func gzipWrap(r *warc.Record) (member, error) {
	var buf bytes.Buffer
	gz := gzipmember.New(&buf)
	if _, err := r.WriteTo(gz); err != nil {
		return member{}, err
	}
	if err := gz.Finish(); err != nil {
		return member{}, err
	}
	return member{record: r, bytes: buf.Bytes()}, nil
}

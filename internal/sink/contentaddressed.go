package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/markb/warcrecorder/internal/casstore"
	"github.com/markb/warcrecorder/internal/cdx"
	"github.com/markb/warcrecorder/internal/recorder"
	"github.com/markb/warcrecorder/internal/warc"
)

// ContentAddressedSink puts every record's gzip member into a
// casstore.Store. The CDXJ "filename" field holds the content address
// instead of a path, so a replay tool resolves records through the store
// rather than a file.
type ContentAddressedSink struct {
	base
	store casstore.Store
}

// NewContentAddressedSink returns a Sink putting every record into store.
func NewContentAddressedSink(store casstore.Store, dedup warc.Dedup, indexer *cdx.Indexer, log *logrus.Logger) *ContentAddressedSink {
	s := &ContentAddressedSink{store: store}
	s.base = newBase(warc.NewBuilder(dedup), indexer, s, log)
	return s
}

// Emit implements recorder.Sink.
func (s *ContentAddressedSink) Emit(ctx context.Context, rec *recorder.Recorder) error {
	return s.base.Emit(ctx, rec)
}

func (s *ContentAddressedSink) place(ctx context.Context, m member) (placement, error) {
	name := string(m.record.Type) + "-" + m.record.ID
	result, err := s.store.Put(ctx, name, bytes.NewReader(m.bytes))
	if err != nil {
		return placement{}, fmt.Errorf("sink: put %s: %w", name, err)
	}
	return placement{offset: 0, length: int64(len(m.bytes)), filename: result.Hash}, nil
}

package warc

import (
	"context"
	"fmt"
	"time"

	"github.com/markb/warcrecorder/internal/recorder"
)

// Action is a dedup resolver's write/skip/revisit decision.
type Action int

const (
	Write Action = iota
	Skip
	Revisit
)

// Decision is the result of a dedup lookup.
type Decision struct {
	Action   Action
	OrigURL  string
	OrigDate time.Time
}

// Dedup is the narrow interface Builder needs from the dedup resolver,
// keeping this package independent of the store/dedup implementation.
type Dedup interface {
	Lookup(ctx context.Context, payloadDigest, url string, now time.Time) (Decision, error)
}

// Result holds the records a Build call produced, in emission order:
// response (or revisit) first, then request, so the request's
// WARC-Concurrent-To can reference the response's already-minted ID.
type Result struct {
	Records []*Record
	// Skipped is true when the dedup resolver returned Skip: no records
	// were produced at all.
	Skipped bool
}

// Builder turns a finished recorder.Recorder into WARC records.
type Builder struct {
	dedup Dedup
}

// NewBuilder returns a Builder consulting dedup for every response payload.
func NewBuilder(dedup Dedup) *Builder {
	return &Builder{dedup: dedup}
}

// Build consults dedup for the response, emits either nothing (Skip), a
// revisit (headers-only body, length = payload offset), or a full response,
// then always emits the matching request record with WARC-Concurrent-To
// pointing at the response/revisit record's ID.
func (b *Builder) Build(ctx context.Context, rec *recorder.Recorder) (*Result, error) {
	respBytes, err := rec.ResponseBuf().ReadAll()
	if err != nil {
		return nil, fmt.Errorf("warc: read response buffer: %w", err)
	}
	reqBytes, err := rec.RequestBuf().ReadAll()
	if err != nil {
		return nil, fmt.Errorf("warc: read request buffer: %w", err)
	}

	payloadDigest := rec.ResponsePayloadDigest()
	decision, err := b.dedup.Lookup(ctx, payloadDigest, rec.URL(), rec.Now())
	if err != nil {
		// A dedup store error degrades to Write rather than blocking capture.
		decision = Decision{Action: Write}
	}

	if decision.Action == Skip {
		return &Result{Skipped: true}, nil
	}

	var mainRecord *Record
	switch decision.Action {
	case Revisit:
		offset := rec.PayloadOffset()
		mainRecord = &Record{
			Type:              TypeRevisit,
			ID:                NewRecordID(),
			Date:              rec.Now(),
			TargetURI:         rec.URL(),
			IPAddress:         rec.TargetIP(),
			Profile:           RevisitProfile,
			RefersToTargetURI: decision.OrigURL,
			RefersToDate:      FormatDate(decision.OrigDate),
			PayloadDigest:     payloadDigest,
			ContentType:       "application/http; msgtype=response",
			Body:              respBytes[:offset],
		}
		// Impossible by construction; asserted defensively.
		if int64(len(mainRecord.Body)) != offset {
			return nil, fmt.Errorf("warc: revisit body length %d != payload offset %d", len(mainRecord.Body), offset)
		}
	default: // Write
		mainRecord = &Record{
			Type:          TypeResponse,
			ID:            NewRecordID(),
			Date:          rec.Now(),
			TargetURI:     rec.URL(),
			IPAddress:     rec.TargetIP(),
			BlockDigest:   rec.ResponseBlockDigest(),
			PayloadDigest: payloadDigest,
			ContentType:   "application/http; msgtype=response",
			Body:          respBytes,
		}
	}

	requestRecord := &Record{
		Type:         TypeRequest,
		ID:           NewRecordID(),
		Date:         rec.Now(),
		TargetURI:    rec.URL(),
		IPAddress:    rec.TargetIP(),
		ConcurrentTo: mainRecord.ID,
		BlockDigest:  rec.RequestBlockDigest(),
		ContentType:  "application/http; msgtype=request",
		Body:         reqBytes,
	}

	return &Result{Records: []*Record{mainRecord, requestRecord}}, nil
}

// BuildMetadata wraps an arbitrary (url, content-type, bytes) triple into an
// optional metadata record with a fresh ID.
func BuildMetadata(now time.Time, url, contentType string, body []byte) *Record {
	return &Record{
		Type:        TypeMetadata,
		ID:          NewRecordID(),
		Date:        now,
		TargetURI:   url,
		ContentType: contentType,
		Body:        body,
	}
}

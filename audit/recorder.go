package audit

import (
	"context"
	"errors"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/ids"
)

// Recorder is the ingestion API of the audit lane.
type Recorder struct {
	dispatcher *Dispatcher
	repo       Repository
	now        func() time.Time
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder records through dispatcher. repo backs MarkProcessed and may
// be nil when nothing consumes events.
func NewRecorder(dispatcher *Dispatcher, repo Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{dispatcher: dispatcher, repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record normalizes in and queues it. The returned event carries the
// assigned id.
func (r *Recorder) Record(ctx context.Context, in Entry) Event {
	if r == nil {
		now := time.Now()
		return Normalize(in, ids.NewAt(now), now)
	}
	now := r.now()
	e := Normalize(in, ids.NewAt(now), now)
	r.dispatcher.Emit(ctx, e)
	return e
}

// MarkProcessed flags an event as handled by a downstream consumer.
func (r *Recorder) MarkProcessed(ctx context.Context, id string) error {
	if r == nil || r.repo == nil {
		return errors.New("audit: no repository configured")
	}
	return r.repo.MarkProcessed(ctx, id, r.now())
}

// Dropped reports events the dispatcher could not queue.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dispatcher.Dropped()
}

// Close drains the dispatcher.
func (r *Recorder) Close() {
	if r != nil {
		r.dispatcher.Close()
	}
}

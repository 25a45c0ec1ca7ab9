package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// Sink receives dispatched events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// LoggerSink writes one structured line per event.
type LoggerSink struct {
	log *zap.Logger
}

func NewLoggerSink(log *zap.Logger) *LoggerSink {
	return &LoggerSink{log: logger.OrNop(log).With(logger.Component("audit"))}
}

func (s *LoggerSink) Emit(_ context.Context, e Event) {
	level := zapcore.InfoLevel
	switch e.Level {
	case LevelWarn, LevelSecurity:
		level = zapcore.WarnLevel
	case LevelError:
		level = zapcore.ErrorLevel
	}
	if ce := s.log.Check(level, "audit event"); ce != nil {
		ce.Write(
			zap.String("audit_id", e.ID),
			zap.String("type", e.Type),
			zap.String("level", string(e.Level)),
			zap.String("severity", string(e.Severity)),
			logger.TenantID(e.TenantID),
			logger.PrincipalID(e.ActorID),
			logger.ClientIP(e.IP),
			zap.Strings("tags", e.Tags),
		)
	}
}

// RepositorySink persists events. Failures are logged; failures of
// financial events are also escalated through the notifier.
type RepositorySink struct {
	repo     Repository
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
}

func NewRepositorySink(repo Repository, notifier Notifier, log *zap.Logger) *RepositorySink {
	return &RepositorySink{
		repo:     repo,
		notifier: notifier,
		timeout:  2 * time.Second,
		log:      logger.OrNop(log).With(logger.Component("audit")),
	}
}

func (s *RepositorySink) Emit(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.repo.Append(ctx, e)
	if err == nil {
		return
	}
	s.log.Error("audit persist failed",
		zap.String("audit_id", e.ID),
		zap.String("type", e.Type),
		logger.TenantID(e.TenantID),
		logger.Err(err),
	)
	if e.Financial() && s.notifier != nil {
		s.notifier.Notify(ctx, e, err)
	}
}

// Package changefeed drains the task change queue and turns every applied
// change into a cache invalidation plus an update announcement.
package changefeed

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

// Source is the change queue.
type Source interface {
	DequeueChange(ctx context.Context) (*storage.QueuedChange, error)
	AckChange(ctx context.Context, id, receipt string) error
}

// Invalidator drops cached task state and announces the change.
type Invalidator interface {
	Invalidate(ctx context.Context, owner string, id int64)
}

// Relay moves change envelopes from the queue to the cache.
type Relay struct {
	source Source
	cache  Invalidator
	logger *log.Logger
	poll   time.Duration
}

// New creates a Relay. poll is the wait after an empty or failed receive.
func New(source Source, cache Invalidator, logger *log.Logger, poll time.Duration) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Relay{source: source, cache: cache, logger: logger, poll: poll}
}

// Run processes messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("change relay started")
	for {
		if ctx.Err() != nil {
			r.logger.Info("change relay stopped")
			return
		}
		handled, err := r.Step(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Error("receive change")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(r.poll):
		}
	}
}

// Step receives and processes at most one message. It reports whether a
// message was taken off the queue.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	msg, err := r.source.DequeueChange(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	r.apply(ctx, msg.Text)
	// Undecodable messages are dropped as well; redelivery would not fix them.
	if err := r.source.AckChange(ctx, msg.ID, msg.Receipt); err != nil {
		r.logger.WithError(err).WithField("message", msg.ID).Warn("ack change failed")
	}
	return true, nil
}

func (r *Relay) apply(ctx context.Context, text string) {
	var env domain.ChangeEnvelope
	if err := sonic.UnmarshalString(text, &env); err != nil {
		r.logger.WithError(err).Warn("discarding malformed change")
		return
	}
	if env.UserID == "" || env.Change.TaskID <= 0 {
		r.logger.WithField("payload", text).Warn("discarding change without owner or task")
		return
	}
	fields := log.Fields{
		"user": env.UserID,
		"task": env.Change.TaskID,
		"type": env.Change.Type,
	}
	if env.Change.BoardID != "" {
		fields["board"] = env.Change.BoardID
	}
	if !knownType(env.Change.Type) {
		r.logger.WithFields(fields).Warn("unknown change type")
	}
	r.cache.Invalidate(ctx, env.UserID, env.Change.TaskID)
	r.logger.WithFields(fields).Debug("change relayed")
}

func knownType(t string) bool {
	switch t {
	case domain.TaskCreated, domain.TaskUpdated, domain.TaskDeleted,
		domain.BoardInserted, domain.BoardUpdated, domain.BoardRemoved:
		return true
	}
	return false
}

package api

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/storage"
	"taskboard/synchronizer"
	"taskboard/viewstate"
)

// Registry holds one synchronizer, and so one view cell, per signed-in user.
// Sessions without open streams are evicted by Sweep once idle.
type Registry struct {
	store  synchronizer.Store
	feed   synchronizer.ChangeFeed
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	syncer   *synchronizer.Synchronizer
	streams  int
	lastUsed time.Time
}

// NewRegistry creates an empty registry. feed may be nil.
func NewRegistry(store synchronizer.Store, feed synchronizer.ChangeFeed, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{store: store, feed: feed, logger: logger, now: time.Now, sessions: make(map[string]*session)}
}

// Session returns the user's synchronizer, creating it on first use.
func (r *Registry) Session(userID string) *synchronizer.Synchronizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionLocked(userID).syncer
}

// Attach returns the user's synchronizer and keeps the session alive until
// release is called. Streams hold a session this way.
func (r *Registry) Attach(userID string) (*synchronizer.Synchronizer, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessionLocked(userID)
	sess.streams++
	var once sync.Once
	return sess.syncer, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			sess.streams--
			sess.lastUsed = r.now()
		})
	}
}

func (r *Registry) sessionLocked(userID string) *session {
	if sess, ok := r.sessions[userID]; ok {
		sess.lastUsed = r.now()
		return sess
	}
	opts := []synchronizer.Option{synchronizer.WithLogger(r.logger)}
	if r.feed != nil {
		opts = append(opts, synchronizer.WithChangeFeed(r.feed))
	}
	logger := r.logger.WithField("user", userID)
	notifier := synchronizer.NotifierFunc(func(n synchronizer.Notice) {
		logger.WithFields(log.Fields{"variant": n.Variant, "title": n.Title}).Debug("notice")
	})
	sess := &session{
		syncer:   synchronizer.New(userID, r.store, viewstate.NewMemory(), notifier, opts...),
		lastUsed: r.now(),
	}
	r.sessions[userID] = sess
	return sess
}

// Lookup returns the user's synchronizer if one exists.
func (r *Registry) Lookup(userID string) (*synchronizer.Synchronizer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.syncer, true
}

// Drop forgets the user's session and clears its cell.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		sess.syncer.Cell().Clear()
	}
}

// Sweep evicts sessions with no open stream that were last used more than
// idle ago. It returns the number of evicted sessions.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	evicted := 0
	for userID, sess := range r.sessions {
		if sess.streams > 0 || sess.lastUsed.After(cutoff) {
			continue
		}
		delete(r.sessions, userID)
		evicted++
	}
	return evicted
}

// RunJanitor sweeps idle sessions until ctx is cancelled. A non-positive
// idle disables eviction.
func (r *Registry) RunJanitor(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(idle); n > 0 {
				r.logger.WithFields(log.Fields{"evicted": n, "remaining": r.Len()}).Debug("idle sessions evicted")
			}
		}
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleUpdate refreshes the viewed task of the user named in an update
// announcement.
func (r *Registry) HandleUpdate(ctx context.Context, payload []byte) error {
	var upd storage.TaskUpdate
	if err := sonic.Unmarshal(payload, &upd); err != nil {
		return err
	}
	s, ok := r.Lookup(upd.UserID)
	if !ok {
		return nil
	}
	return s.Refresh(ctx, upd.TaskID)
}

// SubscribeUpdates listens for task update announcements and refreshes the
// affected view cells until ctx is cancelled.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, registry *Registry) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				if err := registry.HandleUpdate(ctx, []byte(msg.Payload)); err != nil {
					logger.WithError(err).Error("handle task update")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

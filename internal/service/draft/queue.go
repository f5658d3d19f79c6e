package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

// Queue holds each user's pending drafts in memory and writes every change
// through to the DraftStore. Memory is replaced with what the store accepted,
// so the two never disagree once an operation returns.
type Queue struct {
	store   repository.DraftStore
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
	newID   func() string

	mu    sync.Mutex
	parts map[string]*partition
}

type partition struct {
	mu     sync.Mutex
	loaded bool
	drafts []*model.Draft
}

type Option func(*Queue)

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDs overrides draft id generation.
func WithIDs(newID func() string) Option {
	return func(q *Queue) { q.newID = newID }
}

func NewQueue(store repository.DraftStore, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		logger: logger.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
		parts:  make(map[string]*partition),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) partition(userID string) *partition {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.parts[userID]
	if !ok {
		p = &partition{}
		q.parts[userID] = p
	}
	return p
}

// Load replaces the user's in-memory queue with the persisted copy.
func (q *Queue) Load(ctx context.Context, userID string) error {
	p := q.partition(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return q.loadLocked(ctx, userID, p)
}

func (q *Queue) loadLocked(ctx context.Context, userID string, p *partition) error {
	drafts, err := q.store.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load drafts: %w", err)
	}
	p.drafts = drafts
	p.loaded = true
	return nil
}

// Enqueue appends a new draft for payload and returns its id. The draft is
// persisted before Enqueue returns; on error nothing was queued.
func (q *Queue) Enqueue(ctx context.Context, payload model.Payload, userID string) (string, error) {
	if payload == nil {
		return "", errors.New("draft payload is required")
	}
	if userID == "" {
		return "", errors.New("draft owner is required")
	}

	d := &model.Draft{
		ID:          q.newID(),
		FormType:    payload.FormType(),
		OwnerUserID: userID,
		CreatedAt:   q.now().UTC(),
		Payload:     payload,
	}

	p := q.partition(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := q.store.Update(ctx, userID, func(current []*model.Draft) ([]*model.Draft, error) {
		return append(current, d), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist draft: %w", err)
	}
	p.drafts = stored
	p.loaded = true

	if q.metrics != nil {
		q.metrics.DraftsEnqueued.WithLabelValues(string(d.FormType)).Inc()
	}
	q.logger.Info("draft queued", "draft_id", d.ID, "user_id", userID, "form_type", string(d.FormType))
	return d.ID, nil
}

// List returns the user's drafts, oldest first. The slice is a copy.
func (q *Queue) List(ctx context.Context, userID string) ([]*model.Draft, error) {
	p := q.partition(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		if err := q.loadLocked(ctx, userID, p); err != nil {
			return nil, err
		}
	}
	out := make([]*model.Draft, len(p.drafts))
	copy(out, p.drafts)
	return out, nil
}

// Remove deletes the draft with draftID. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, draftID, userID string) error {
	p := q.partition(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := false
	stored, err := q.store.Update(ctx, userID, func(current []*model.Draft) ([]*model.Draft, error) {
		removed = false
		next := make([]*model.Draft, 0, len(current))
		for _, d := range current {
			if d.ID == draftID && !removed {
				removed = true
				continue
			}
			next = append(next, d)
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist draft removal: %w", err)
	}
	p.drafts = stored
	p.loaded = true

	if removed {
		if q.metrics != nil {
			q.metrics.DraftsRemoved.Inc()
		}
		q.logger.Debug("draft removed", "draft_id", draftID, "user_id", userID)
	}
	return nil
}

// Owners lists users that have persisted drafts.
func (q *Queue) Owners(ctx context.Context) ([]string, error) {
	return q.store.Owners(ctx)
}

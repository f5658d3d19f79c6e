package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/service/draft"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/messaging"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

const (
	ResultSynced = "synced"
	ResultFailed = "failed"

	EventDraftSynced = "draft.synced"
	EventDraftFailed = "draft.failed"
)

// Replayer runs one submission through upload and commit.
type Replayer interface {
	Execute(ctx context.Context, submissionID, userID string, payload model.Payload) (*model.Commit, error)
}

type Result struct {
	DraftID  string         `json:"draft_id"`
	FormType model.FormType `json:"form_type"`
	Status   string         `json:"status"`
	Code     string         `json:"code,omitempty"`
	Error    string         `json:"error,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

type Report struct {
	UserID    string    `json:"user_id"`
	Total     int       `json:"total"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	Remaining int       `json:"remaining"`
	Results   []Result  `json:"results"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

type Config struct {
	DraftTimeout  time.Duration
	EventsChannel string
}

type Coordinator struct {
	queue    *draft.Queue
	replayer Replayer
	broker   messaging.Broker
	cfg      Config
	metrics  *metrics.Metrics
	logger   *logger.Logger
	flights  singleflight.Group

	mu     sync.Mutex
	active map[string]*flight
}

// flight is the context a shared run executes under. It outlives any one
// caller and is cancelled only when its last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithBroker publishes one event per replayed draft.
func WithBroker(b messaging.Broker) Option {
	return func(c *Coordinator) { c.broker = b }
}

func NewCoordinator(queue *draft.Queue, replayer Replayer, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    queue,
		replayer: replayer,
		broker:   messaging.Nop{},
		cfg:      cfg,
		logger:   logger.Nop(),
		active:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync replays the user's drafts oldest first. Each draft is uploaded and
// committed on its own; a failure is recorded and the next draft is tried.
// Concurrent calls for the same user share one run, which keeps going while
// any caller still waits for it. A caller whose ctx ends returns ctx.Err(),
// with the partial report when it was the last one waiting.
func (c *Coordinator) Sync(ctx context.Context, userID string, online bool) (*Report, error) {
	if !online {
		return nil, apperrors.Offline()
	}
	if userID == "" {
		return nil, apperrors.BadRequest("user id is required", nil)
	}
	if ctx.Err() != nil {
		return c.run(ctx, userID)
	}

	for {
		f := c.join(ctx, userID)
		ch := c.flights.DoChan(userID, func() (interface{}, error) {
			return c.run(f.ctx, userID)
		})

		select {
		case res := <-ch:
			c.leave(userID, f)
			report, _ := res.Val.(*Report)
			// Joined a run whose callers had all gone; start a fresh one.
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			return report, res.Err
		case <-ctx.Done():
			if !c.leave(userID, f) {
				return nil, ctx.Err()
			}
			res := <-ch
			report, _ := res.Val.(*Report)
			return report, ctx.Err()
		}
	}
}

func (c *Coordinator) join(ctx context.Context, userID string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.active[userID]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.active[userID] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter and reports whether it was the last.
func (c *Coordinator) leave(userID string, f *flight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	if c.active[userID] == f {
		delete(c.active, userID)
	}
	f.cancel()
	return true
}

func (c *Coordinator) run(ctx context.Context, userID string) (*Report, error) {
	start := time.Now()
	report := &Report{UserID: userID, Results: []Result{}, StartedAt: start.UTC()}
	defer func() {
		report.Duration = time.Since(start).String()
		if c.metrics != nil {
			c.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := c.queue.Load(ctx, userID); err != nil {
		return nil, err
	}
	drafts, err := c.queue.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.Total = len(drafts)

	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			report.Remaining = report.Total - report.Synced
			return report, err
		}

		res := c.replay(ctx, userID, d)
		report.Results = append(report.Results, res)
		if res.Status == ResultSynced {
			report.Synced++
		} else {
			report.Failed++
		}
		c.publish(ctx, userID, res)
	}

	report.Remaining = report.Total - report.Synced
	c.logger.WithContext(ctx).WithFields(map[string]interface{}{"user_id": userID}).Info("draft sync finished",
		"total", report.Total, "synced", report.Synced, "failed", report.Failed)
	return report, nil
}

func (c *Coordinator) replay(ctx context.Context, userID string, d *model.Draft) Result {
	res := Result{DraftID: d.ID, FormType: d.FormType}

	dctx := ctx
	if c.cfg.DraftTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.DraftTimeout)
		defer cancel()
	}

	commit, err := c.replayer.Execute(dctx, d.ID, userID, d.Payload)
	if err == nil {
		res.Replayed = commit.Replayed
		err = c.queue.Remove(ctx, d.ID, userID)
		if err != nil {
			err = fmt.Errorf("draft committed but not removed: %w", err)
		}
	}

	if err != nil {
		res.Status = ResultFailed
		res.Code = apperrors.CodeOf(err).Name()
		res.Error = err.Error()
		c.logger.Warn("draft replay failed",
			"user_id", userID, "draft_id", d.ID, "form_type", string(d.FormType), "code", res.Code, "error", res.Error)
	} else {
		res.Status = ResultSynced
		c.logger.Info("draft replayed", "user_id", userID, "draft_id", d.ID, "form_type", string(d.FormType))
	}

	if c.metrics != nil {
		c.metrics.SyncDrafts.WithLabelValues(string(d.FormType), res.Status).Inc()
	}
	return res
}

func (c *Coordinator) publish(ctx context.Context, userID string, res Result) {
	if c.cfg.EventsChannel == "" {
		return
	}
	eventType := EventDraftSynced
	if res.Status != ResultSynced {
		eventType = EventDraftFailed
	}
	msg := messaging.Message{
		Type: eventType,
		Payload: map[string]interface{}{
			"user_id": userID,
			"result":  res,
		},
	}
	if err := c.broker.Publish(ctx, c.cfg.EventsChannel, msg); err != nil {
		c.logger.Debug("sync event not published", "event", eventType, "error", err.Error())
	}
}

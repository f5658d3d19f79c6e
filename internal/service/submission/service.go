package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
	"github.com/jwalitptl/fieldsync/internal/service/draft"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

const (
	StatusCommitted = "committed"
	StatusDrafted   = "drafted"
)

// Outcome tells the caller whether a submission reached the store or was
// kept as a draft for the next sync.
type Outcome struct {
	Status   string        `json:"status"`
	Commit   *model.Commit `json:"commit,omitempty"`
	DraftID  string        `json:"draft_id,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

type Service struct {
	pipeline *Pipeline
	repo     repository.SubmissionRepository
	queue    *draft.Queue
	metrics  *metrics.Metrics
	logger   *logger.Logger
	newID    func() string

	// directBudget caps the direct attempt so a slow network ends in a draft
	// while the request is still alive.
	directBudget time.Duration
	// draftWrite bounds persisting a draft, which runs detached from the request.
	draftWrite time.Duration
}

type Option func(*Service)

// WithDirectBudget caps how long the upload-and-commit attempt may take.
func WithDirectBudget(d time.Duration) Option {
	return func(s *Service) { s.directBudget = d }
}

// WithDraftWriteTimeout bounds the draft write that follows a failed attempt.
func WithDraftWriteTimeout(d time.Duration) Option {
	return func(s *Service) { s.draftWrite = d }
}

func NewService(pipeline *Pipeline, repo repository.SubmissionRepository, queue *draft.Queue, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		pipeline:   pipeline,
		repo:       repo,
		queue:      queue,
		metrics:    m,
		logger:     log,
		newID:      uuid.NewString,
		draftWrite: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit tries the direct path when online and falls back to a draft when
// the failure is one a later sync can recover from. Duplicates, query errors
// and incomplete payloads are returned to the caller.
func (s *Service) Submit(ctx context.Context, userID string, payload model.Payload, online bool) (*Outcome, error) {
	if err := s.pipeline.Validate(payload); err != nil {
		s.count(payload, "invalid")
		return nil, err
	}

	warnings := s.advisories(ctx, payload, online)

	if !online {
		return s.toDraft(ctx, userID, payload, apperrors.Offline(), warnings)
	}

	commit, err := s.direct(ctx, userID, payload)
	if err != nil {
		if draftable(err) {
			return s.toDraft(ctx, userID, payload, err, warnings)
		}
		s.count(payload, apperrors.CodeOf(err).Name())
		s.logger.WithContext(ctx).Warn("submission rejected", "user_id", userID, "form_type", string(payload.FormType()), "error", err.Error())
		return nil, err
	}

	s.count(payload, StatusCommitted)
	s.logger.WithContext(ctx).Info("submission committed", "user_id", userID, "form_type", string(payload.FormType()), "submission_id", commit.SubmissionID)
	return &Outcome{Status: StatusCommitted, Commit: commit, Warnings: warnings}, nil
}

func (s *Service) direct(ctx context.Context, userID string, payload model.Payload) (*model.Commit, error) {
	if s.directBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.directBudget)
		defer cancel()
	}
	return s.pipeline.Execute(ctx, s.newID(), userID, payload)
}

// toDraft persists payload even when the request context is already done;
// the field agent's work must not depend on how long the direct attempt took.
func (s *Service) toDraft(ctx context.Context, userID string, payload model.Payload, cause error, warnings []string) (*Outcome, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.draftWrite)
	defer cancel()

	log := s.logger.WithContext(ctx)
	id, err := s.queue.Enqueue(wctx, payload, userID)
	if err != nil {
		s.count(payload, "lost")
		log.Error(err, "submission could not be drafted", "user_id", userID, "form_type", string(payload.FormType()))
		return nil, apperrors.Internal(fmt.Errorf("failed to save draft after %v: %w", cause, err))
	}

	s.count(payload, StatusDrafted)
	log.Info("submission saved as draft", "user_id", userID, "draft_id", id, "reason", apperrors.CodeOf(cause).Name())
	return &Outcome{
		Status:   StatusDrafted,
		DraftID:  id,
		Reason:   apperrors.CodeOf(cause).Name(),
		Warnings: warnings,
	}, nil
}

// advisories returns non-blocking warnings. The phone lookup is skipped
// offline and its failure never blocks the submission.
func (s *Service) advisories(ctx context.Context, payload model.Payload, online bool) []string {
	onboarding, ok := payload.(*model.OutletOnboarding)
	if !ok || !online {
		return nil
	}
	exists, err := s.repo.PhoneContactExists(ctx, onboarding.PhoneContact)
	if err != nil {
		s.logger.Debug("phone contact lookup failed", "error", err.Error())
		return nil
	}
	if exists {
		return []string{fmt.Sprintf("an outlet with phone contact %s already exists", onboarding.PhoneContact)}
	}
	return nil
}

func (s *Service) count(payload model.Payload, outcome string) {
	if s.metrics == nil || payload == nil {
		return
	}
	s.metrics.Submissions.WithLabelValues(string(payload.FormType()), outcome).Inc()
}

// draftable reports whether err is one a later sync can recover from.
func draftable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrUpload, apperrors.ErrOffline, apperrors.ErrTransientInfrastructure, apperrors.ErrConsistencyConflict:
		return true
	}
	return false
}

package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/service/draft"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

type ServiceSuite struct {
	suite.Suite
	uploader *fakeUploader
	repo     *fakeRepo
	store    *memStore
	queue    *draft.Queue
	metrics  *metrics.Metrics
	svc      *Service
}

func (s *ServiceSuite) SetupTest() {
	s.uploader = &fakeUploader{}
	s.repo = &fakeRepo{phones: map[string]bool{}}
	s.store = newMemStore()
	s.queue = draft.NewQueue(s.store)
	s.metrics = metrics.New("test", prometheus.NewRegistry())
	s.svc = NewService(NewPipeline(s.uploader, s.repo, nil), s.repo, s.queue, s.metrics, nil)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) drafts(user string) []*model.Draft {
	drafts, err := s.queue.List(context.Background(), user)
	s.Require().NoError(err)
	return drafts
}

func (s *ServiceSuite) TestOnlineCommit() {
	out, err := s.svc.Submit(context.Background(), "u1", shelfPayload(), true)
	s.Require().NoError(err)

	s.Equal(StatusCommitted, out.Status)
	s.NotEmpty(out.Commit.SubmissionID)
	s.Equal("shelves/obj-1.jpg", out.Commit.MediaKeys["shelf_image"])
	s.Empty(s.drafts("u1"))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("msl_sos", "committed")))
}

func (s *ServiceSuite) TestOfflineBecomesDraft() {
	payload := shelfPayload()
	out, err := s.svc.Submit(context.Background(), "u1", payload, false)
	s.Require().NoError(err)

	s.Equal(StatusDrafted, out.Status)
	s.Equal("offline_state", out.Reason)
	s.Empty(s.uploader.folders)
	s.Empty(s.repo.commits)

	drafts := s.drafts("u1")
	s.Require().Len(drafts, 1)
	s.Equal(out.DraftID, drafts[0].ID)
	s.Equal(payload, drafts[0].Payload)
}

func (s *ServiceSuite) TestDraftableFailures() {
	cases := []struct {
		name   string
		setup  func()
		reason string
	}{
		{"upload", func() {
			s.uploader.failOn, s.uploader.err = "*", apperrors.Upload("shelf_image", errors.New("timeout"))
		}, "upload_failure"},
		{"transient", func() { s.repo.commitErr = apperrors.Transient(5, errors.New("connection refused")) }, "transient_infrastructure_failure"},
		{"conflict", func() { s.repo.commitErr = apperrors.Conflict(errors.New("40001")) }, "consistency_conflict"},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			tc.setup()

			out, err := s.svc.Submit(context.Background(), "u1", shelfPayload(), true)
			s.Require().NoError(err)
			s.Equal(StatusDrafted, out.Status)
			s.Equal(tc.reason, out.Reason)
			s.Len(s.drafts("u1"), 1)
		})
	}
}

func (s *ServiceSuite) TestSurfacedFailures() {
	cases := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"duplicate", apperrors.Duplicate(errors.New("23505")), apperrors.ErrDuplicateEntry},
		{"query", apperrors.Query(errors.New("42601")), apperrors.ErrQuery},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.repo.commitErr = tc.err

			out, err := s.svc.Submit(context.Background(), "u1", shelfPayload(), true)
			s.Nil(out)
			s.Require().Error(err)
			s.Equal(tc.code, apperrors.CodeOf(err))
			s.Empty(s.drafts("u1"))
		})
	}
}

func (s *ServiceSuite) TestDuplicateMessageIsShownVerbatim() {
	s.repo.commitErr = apperrors.Duplicate(errors.New("23505"))

	_, err := s.svc.Submit(context.Background(), "u1", onboardingPayload("0803"), true)

	var appErr *apperrors.AppError
	s.Require().ErrorAs(err, &appErr)
	s.Equal("Submission failed: Duplicate entry detected.", appErr.Message)
}

func (s *ServiceSuite) TestInvalidPayloadIsNeverDrafted() {
	payload := shelfPayload()
	payload.GPS = nil

	_, err := s.svc.Submit(context.Background(), "u1", payload, false)

	s.Require().Error(err)
	s.Equal(apperrors.ErrBadRequest, apperrors.CodeOf(err))
	s.Empty(s.drafts("u1"))
}

func (s *ServiceSuite) TestDraftStoreFailure() {
	s.store.fail = true

	_, err := s.svc.Submit(context.Background(), "u1", shelfPayload(), false)

	s.Require().Error(err)
	s.Equal(apperrors.ErrInternal, apperrors.CodeOf(err))
}

func (s *ServiceSuite) TestPhoneWarningIsAdvisory() {
	s.repo.phones["08031234567"] = true

	out, err := s.svc.Submit(context.Background(), "u1", onboardingPayload("08031234567"), true)
	s.Require().NoError(err)

	s.Equal(StatusCommitted, out.Status)
	s.Require().Len(out.Warnings, 1)
	s.Contains(out.Warnings[0], "08031234567")
}

func (s *ServiceSuite) TestPhoneLookupFailureIsIgnored() {
	s.repo.phoneErr = errors.New("lookup failed")

	out, err := s.svc.Submit(context.Background(), "u1", onboardingPayload("0803"), true)
	s.Require().NoError(err)
	s.Empty(out.Warnings)
}

func TestDraftable(t *testing.T) {
	assert.True(t, draftable(apperrors.Offline()))
	assert.True(t, draftable(apperrors.Upload("x", nil)))
	assert.False(t, draftable(apperrors.Duplicate(nil)))
	assert.False(t, draftable(errors.New("plain")))
	require.False(t, draftable(apperrors.BadRequest("bad", nil)))
}

func (s *ServiceSuite) TestStalledUploadIsDraftedAfterRequestDeadline() {
	s.uploader.hang = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := s.svc.Submit(ctx, "u1", posmPayload(), true)
	s.Require().NoError(err)

	s.Equal(StatusDrafted, out.Status)
	s.Equal("upload_failure", out.Reason)
	drafts := s.drafts("u1")
	s.Require().Len(drafts, 1)
	s.Equal(out.DraftID, drafts[0].ID)
	s.Empty(s.repo.commits)
}

func (s *ServiceSuite) TestDirectBudgetDraftsBeforeRequestEnds() {
	s.uploader.hang = true
	svc := NewService(NewPipeline(s.uploader, s.repo, nil), s.repo, s.queue, s.metrics, nil,
		WithDirectBudget(30*time.Millisecond))

	start := time.Now()
	out, err := svc.Submit(context.Background(), "u1", shelfPayload(), true)
	s.Require().NoError(err)

	s.Less(time.Since(start), 5*time.Second)
	s.Equal(StatusDrafted, out.Status)
	s.Len(s.drafts("u1"), 1)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("msl_sos", "drafted")))
}

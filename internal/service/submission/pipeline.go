package submission

import (
	"context"
	"fmt"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/storage/spaces"
	"github.com/jwalitptl/fieldsync/pkg/validator"
)

// Uploader stores one image and returns its object key.
type Uploader interface {
	Upload(ctx context.Context, data []byte, folder string, loc *spaces.Location) (string, error)
}

// Pipeline is the upload-then-commit sequence shared by direct submissions
// and draft replay.
type Pipeline struct {
	uploader  Uploader
	repo      repository.SubmissionRepository
	validator validator.Validator
	logger    *logger.Logger
}

func NewPipeline(uploader Uploader, repo repository.SubmissionRepository, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		uploader:  uploader,
		repo:      repo,
		validator: validator.New(),
		logger:    log,
	}
}

// Validate checks the payload is complete enough to commit.
func (p *Pipeline) Validate(payload model.Payload) error {
	if payload == nil {
		return apperrors.BadRequest("payload is required", nil)
	}
	if err := p.validator.Validate(payload); err != nil {
		return apperrors.BadRequest(err.Error(), err)
	}
	return nil
}

// Execute uploads every media slot of payload and then commits the record
// under submissionID. Nothing is committed unless all uploads succeeded.
func (p *Pipeline) Execute(ctx context.Context, submissionID, userID string, payload model.Payload) (*model.Commit, error) {
	if err := p.Validate(payload); err != nil {
		return nil, err
	}

	var loc *spaces.Location
	if gps := payload.Location(); gps != nil {
		loc = &spaces.Location{Latitude: gps.Latitude, Longitude: gps.Longitude}
	}

	slots := payload.MediaSlots()
	media := make(map[string]string, len(slots))
	for _, slot := range slots {
		key, err := p.uploader.Upload(ctx, slot.Data, slot.Folder, loc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", slot.Name, err)
		}
		media[slot.Name] = key
	}

	commit, err := p.repo.Commit(ctx, submissionID, userID, payload, media)
	if err != nil {
		return nil, err
	}
	if commit.Replayed {
		p.logger.Info("submission already committed", "submission_id", submissionID, "form_type", string(payload.FormType()))
	}
	return commit, nil
}

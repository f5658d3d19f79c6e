package repository

import (
	"context"

	"github.com/jwalitptl/fieldsync/internal/model"
)

// All repository interfaces in one file
type (
	// SubmissionRepository writes submission records
	SubmissionRepository interface {
		Commit(ctx context.Context, submissionID, userID string, p model.Payload, media map[string]string) (*model.Commit, error)
		PhoneContactExists(ctx context.Context, phone string) (bool, error)
	}

	// CatalogRepository reads the reference data forms are filled from
	CatalogRepository interface {
		ListOutletsByUser(ctx context.Context, userID string) ([]*model.Outlet, error)
		ListRegions(ctx context.Context) ([]*model.Region, error)
		// ListLocations returns every location when regionID is 0.
		ListLocations(ctx context.Context, regionID int64) ([]*model.Location, error)
		ListSKUs(ctx context.Context) ([]*model.SKU, error)
		ListPOSMs(ctx context.Context) ([]*model.POSM, error)
	}

	// DraftStore persists each user's draft list. Update must apply fn as an
	// atomic read-modify-write and return the list it stored.
	DraftStore interface {
		Load(ctx context.Context, userID string) ([]*model.Draft, error)
		Update(ctx context.Context, userID string, fn func([]*model.Draft) ([]*model.Draft, error)) ([]*model.Draft, error)
		Owners(ctx context.Context) ([]string, error)
		Close() error
	}
)

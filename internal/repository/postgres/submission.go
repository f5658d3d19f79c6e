package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
)

type submissionRepository struct {
	exec Executor
	now  func() time.Time
}

func NewSubmissionRepository(exec Executor) repository.SubmissionRepository {
	return &submissionRepository{exec: exec, now: time.Now}
}

// Commit inserts the record for p. Every table has a unique submission_id, so
// committing the same submission twice reports Replayed instead of a duplicate.
func (r *submissionRepository) Commit(ctx context.Context, submissionID, userID string, p model.Payload, media map[string]string) (*model.Commit, error) {
	stmt, args, err := insertFor(submissionID, userID, p, media)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	commit := &model.Commit{
		SubmissionID: submissionID,
		FormType:     p.FormType(),
		MediaKeys:    media,
	}

	_, err = r.exec.Execute(ctx, stmt, args, FetchNone)
	if err != nil {
		if isSubmissionReplay(err) {
			commit.Replayed = true
			commit.CommittedAt = r.now()
			return commit, nil
		}
		return nil, err
	}

	commit.CommittedAt = r.now()
	return commit, nil
}

func (r *submissionRepository) PhoneContactExists(ctx context.Context, phone string) (bool, error) {
	rows, err := r.exec.Execute(ctx,
		`SELECT id FROM outlets WHERE phone_contact = $1`,
		[]any{phone}, FetchOne)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func isSubmissionReplay(err error) bool {
	if !apperrors.Is(err, apperrors.DuplicateEntry) {
		return false
	}
	constraint, ok := uniqueConstraint(err)
	return ok && strings.HasSuffix(constraint, "_submission_id_key")
}

func insertFor(submissionID, userID string, p model.Payload, media map[string]string) (string, []any, error) {
	lat, lng := coordinates(p.Location())

	switch v := p.(type) {
	case *model.OutletOnboarding:
		return `INSERT INTO outlets (
				submission_id, name, location_id, classification, outlet_type, onboarded_by_user_id,
				gps_lat, gps_long, outlet_image_key, phone_contact, outlet_number, outlet_address,
				outlet_landmark, contact_person, region, account_no, bank_name, account_name
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			[]any{
				submissionID, v.Name, v.LocationID, v.Classification, v.OutletType, userID,
				lat, lng, media["outlet_image"], v.PhoneContact, v.OutletNumber, v.Address,
				v.Landmark, v.ContactPerson, v.Region, v.AccountNo, v.BankName, v.AccountName,
			}, nil

	case *model.POSMDeployment:
		data, err := json.Marshal(v.DeployedPOSMs)
		if err != nil {
			return "", nil, err
		}
		return `INSERT INTO posm_deployments (
				submission_id, outlet_id, deployed_by_user_id, deployed_posms,
				before_image_key, after_image_key, gps_lat, gps_long
			) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)`,
			[]any{submissionID, v.OutletID, userID, string(data), media["before_image"], media["after_image"], lat, lng}, nil

	case *model.MSLSOSTrack:
		data, err := json.Marshal(v.SOS)
		if err != nil {
			return "", nil, err
		}
		return `INSERT INTO msl_sos_tracks (
				submission_id, outlet_id, tracked_by_user_id, sos_data, msl_count,
				shelf_image_key, gps_lat, gps_long, outlet_info
			) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)`,
			[]any{submissionID, v.OutletID, userID, string(data), v.MSLCount, media["shelf_image"], lat, lng, v.OutletInfo}, nil

	case *model.OOSTrack:
		return trackInsert("oos_tracks", "oos_data", submissionID, userID, v.OutletID, v.Items, lat, lng, v.OutletInfo)

	case *model.OrderTrack:
		return trackInsert("order_tracks", "order_data", submissionID, userID, v.OutletID, v.Lines, lat, lng, v.OutletInfo)

	case *model.PriceTrack:
		return trackInsert("price_tracks", "price_data", submissionID, userID, v.OutletID, v.Prices, lat, lng, v.OutletInfo)
	}

	return "", nil, fmt.Errorf("unsupported payload %T", p)
}

// trackInsert covers the image-less tracks, which differ only in table and data column.
func trackInsert(table, column, submissionID, userID string, outletID int64, data any, lat, lng any, info string) (string, []any, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (
			submission_id, outlet_id, tracked_by_user_id, %s, gps_lat, gps_long, outlet_info
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`, table, column)
	return stmt, []any{submissionID, outletID, userID, string(body), lat, lng, info}, nil
}

func coordinates(gps *model.GeoPoint) (any, any) {
	if gps == nil {
		return nil, nil
	}
	return gps.Latitude, gps.Longitude
}

package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
)

type catalogRepository struct {
	exec Executor
}

func NewCatalogRepository(exec Executor) repository.CatalogRepository {
	return &catalogRepository{exec: exec}
}

func (r *catalogRepository) ListOutletsByUser(ctx context.Context, userID string) ([]*model.Outlet, error) {
	query := `
		SELECT o.id, o.name, o.outlet_address, o.phone_contact, o.location_id, o.outlet_type,
		       o.classification, o.contact_person, l.name AS location_name, r.name AS region_name
		FROM outlets o
		JOIN locations_by_region l ON o.location_id = l.id
		JOIN region r ON l.region_id = r.id
		WHERE o.onboarded_by_user_id = $1
		ORDER BY o.name
	`
	rows, err := r.exec.Execute(ctx, query, []any{userID}, FetchAll)
	if err != nil {
		return nil, err
	}

	outlets := make([]*model.Outlet, 0, len(rows))
	for _, row := range rows {
		outlets = append(outlets, &model.Outlet{
			ID:             asInt64(row["id"]),
			Name:           asString(row["name"]),
			Address:        asString(row["outlet_address"]),
			PhoneContact:   asString(row["phone_contact"]),
			LocationID:     asInt64(row["location_id"]),
			OutletType:     asString(row["outlet_type"]),
			Classification: asString(row["classification"]),
			ContactPerson:  asString(row["contact_person"]),
			LocationName:   asString(row["location_name"]),
			RegionName:     asString(row["region_name"]),
		})
	}
	return outlets, nil
}

func (r *catalogRepository) ListRegions(ctx context.Context) ([]*model.Region, error) {
	rows, err := r.exec.Execute(ctx, `SELECT id, name FROM region ORDER BY name`, nil, FetchAll)
	if err != nil {
		return nil, err
	}

	regions := make([]*model.Region, 0, len(rows))
	for _, row := range rows {
		regions = append(regions, &model.Region{
			ID:   asInt64(row["id"]),
			Name: asString(row["name"]),
		})
	}
	return regions, nil
}

func (r *catalogRepository) ListLocations(ctx context.Context, regionID int64) ([]*model.Location, error) {
	query := `
		SELECT l.id, l.name, l.region_id, r.name AS region_name
		FROM locations_by_region l
		JOIN region r ON l.region_id = r.id
	`
	var args []any
	if regionID > 0 {
		query += ` WHERE l.region_id = $1`
		args = append(args, regionID)
	}
	query += ` ORDER BY r.name, l.name`

	rows, err := r.exec.Execute(ctx, query, args, FetchAll)
	if err != nil {
		return nil, err
	}

	locations := make([]*model.Location, 0, len(rows))
	for _, row := range rows {
		locations = append(locations, &model.Location{
			ID:         asInt64(row["id"]),
			Name:       asString(row["name"]),
			RegionID:   asInt64(row["region_id"]),
			RegionName: asString(row["region_name"]),
		})
	}
	return locations, nil
}

func (r *catalogRepository) ListSKUs(ctx context.Context) ([]*model.SKU, error) {
	rows, err := r.exec.Execute(ctx,
		`SELECT id, category, name, description, expiry_tracking FROM skus ORDER BY category, name`,
		nil, FetchAll)
	if err != nil {
		return nil, err
	}

	skus := make([]*model.SKU, 0, len(rows))
	for _, row := range rows {
		skus = append(skus, &model.SKU{
			ID:             asInt64(row["id"]),
			Category:       asString(row["category"]),
			Name:           asString(row["name"]),
			Description:    asString(row["description"]),
			ExpiryTracking: asBool(row["expiry_tracking"]),
		})
	}
	return skus, nil
}

func (r *catalogRepository) ListPOSMs(ctx context.Context) ([]*model.POSM, error) {
	rows, err := r.exec.Execute(ctx, `SELECT id, name FROM posms ORDER BY name`, nil, FetchAll)
	if err != nil {
		return nil, err
	}

	posms := make([]*model.POSM, 0, len(rows))
	for _, row := range rows {
		posms = append(posms, &model.POSM{
			ID:   asInt64(row["id"]),
			Name: asString(row["name"]),
		})
	}
	return posms, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

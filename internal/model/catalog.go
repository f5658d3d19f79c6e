package model

import "time"

// Outlet is the listing row for outlets a user has onboarded.
type Outlet struct {
	ID             int64  `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Address        string `json:"outlet_address" db:"outlet_address"`
	PhoneContact   string `json:"phone_contact" db:"phone_contact"`
	LocationID     int64  `json:"location_id" db:"location_id"`
	OutletType     string `json:"outlet_type" db:"outlet_type"`
	Classification string `json:"classification" db:"classification"`
	ContactPerson  string `json:"contact_person" db:"contact_person"`
	LocationName   string `json:"location_name" db:"location_name"`
	RegionName     string `json:"region_name" db:"region_name"`
}

// Label is the human-readable outlet description stored alongside tracks.
func (o *Outlet) Label() string {
	return o.Name + " (" + o.RegionName + " - " + o.LocationName + " | " + o.Address + " | " +
		o.ContactPerson + " | " + o.PhoneContact + " | " + o.OutletType + " | " + o.Classification + ")"
}

type Region struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Location is an onboarding location; outlets reference it by ID.
type Location struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	RegionID   int64  `json:"region_id" db:"region_id"`
	RegionName string `json:"region_name" db:"region_name"`
}

type SKU struct {
	ID             int64  `json:"id" db:"id"`
	Category       string `json:"category" db:"category"`
	Name           string `json:"name" db:"name"`
	Description    string `json:"description" db:"description"`
	ExpiryTracking bool   `json:"expiry_tracking" db:"expiry_tracking"`
}

type POSM struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Commit is the outcome of writing a submission record.
type Commit struct {
	SubmissionID string            `json:"submission_id"`
	FormType     FormType          `json:"form_type"`
	MediaKeys    map[string]string `json:"media_keys,omitempty"`
	CommittedAt  time.Time         `json:"committed_at"`
	// Replayed is set when the record already existed under this submission id.
	Replayed bool `json:"replayed,omitempty"`
}

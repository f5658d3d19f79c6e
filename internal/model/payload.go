package model

import (
	"encoding/json"
	"fmt"
)

type FormType string

const (
	FormOnboarding     FormType = "onboarding"
	FormPOSMDeployment FormType = "posm_deployment"
	FormMSLSOS         FormType = "msl_sos"
	FormOOS            FormType = "oos"
	FormOrder          FormType = "order"
	FormPrice          FormType = "price"
)

// Image destination folders in the bucket.
const (
	FolderOutlets    = "outlets"
	FolderPOSMBefore = "posm_before"
	FolderPOSMAfter  = "posm_after"
	FolderShelves    = "shelves"
)

// GeoPoint is the device position at capture time.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// MediaSlot is one image a form needs uploaded before it can be committed.
type MediaSlot struct {
	Name   string
	Folder string
	Data   []byte
}

// Payload is the form-specific body of a submission or draft.
type Payload interface {
	FormType() FormType
	MediaSlots() []MediaSlot
	Location() *GeoPoint
}

// OutletOnboarding registers a new outlet.
type OutletOnboarding struct {
	Name           string    `json:"name" validate:"required"`
	PhoneContact   string    `json:"phone_contact" validate:"required"`
	OutletNumber   string    `json:"outlet_number"`
	Address        string    `json:"outlet_address" validate:"required"`
	Landmark       string    `json:"outlet_landmark"`
	LocationID     int64     `json:"location_id" validate:"required"`
	ContactPerson  string    `json:"contact_person" validate:"required"`
	Classification string    `json:"classification" validate:"required"`
	OutletType     string    `json:"outlet_type" validate:"required"`
	Region         string    `json:"region"`
	AccountNo      string    `json:"account_no"`
	BankName       string    `json:"bank_name"`
	AccountName    string    `json:"account_name"`
	GPS            *GeoPoint `json:"gps" validate:"required"`
	OutletImage    []byte    `json:"outlet_image" validate:"required"`
}

func (p *OutletOnboarding) FormType() FormType  { return FormOnboarding }
func (p *OutletOnboarding) Location() *GeoPoint { return p.GPS }
func (p *OutletOnboarding) MediaSlots() []MediaSlot {
	return []MediaSlot{{Name: "outlet_image", Folder: FolderOutlets, Data: p.OutletImage}}
}

// DeployedPOSM is one material installed at an outlet. Only one of each may be deployed per visit.
type DeployedPOSM struct {
	POSMID   int64 `json:"posm_id" validate:"required"`
	Quantity int   `json:"quantity" validate:"eq=1"`
}

type POSMDeployment struct {
	OutletID      int64          `json:"outlet_id" validate:"required"`
	DeployedPOSMs []DeployedPOSM `json:"deployed_posms" validate:"required,min=1,unique=POSMID,dive"`
	GPS           *GeoPoint      `json:"gps" validate:"required"`
	BeforeImage   []byte         `json:"before_image" validate:"required"`
	AfterImage    []byte         `json:"after_image" validate:"required"`
}

func (p *POSMDeployment) FormType() FormType  { return FormPOSMDeployment }
func (p *POSMDeployment) Location() *GeoPoint { return p.GPS }
func (p *POSMDeployment) MediaSlots() []MediaSlot {
	return []MediaSlot{
		{Name: "before_image", Folder: FolderPOSMBefore, Data: p.BeforeImage},
		{Name: "after_image", Folder: FolderPOSMAfter, Data: p.AfterImage},
	}
}

// ShelfShare holds facing counts keyed by SKU id (own) and category (competitors).
type ShelfShare struct {
	YourSKUs          map[string]int `json:"your_skus" validate:"dive,gte=0"`
	CompetitorFacings map[string]int `json:"competitor_facings" validate:"dive,gte=0"`
}

type MSLSOSTrack struct {
	OutletID   int64      `json:"outlet_id" validate:"required"`
	OutletInfo string     `json:"outlet_info"`
	SOS        ShelfShare `json:"sos_data"`
	MSLCount   int        `json:"msl_count" validate:"gte=0"`
	GPS        *GeoPoint  `json:"gps" validate:"required"`
	ShelfImage []byte     `json:"shelf_image" validate:"required"`
}

func (p *MSLSOSTrack) FormType() FormType  { return FormMSLSOS }
func (p *MSLSOSTrack) Location() *GeoPoint { return p.GPS }
func (p *MSLSOSTrack) MediaSlots() []MediaSlot {
	return []MediaSlot{{Name: "shelf_image", Folder: FolderShelves, Data: p.ShelfImage}}
}

type OOSItem struct {
	SKUID  int64  `json:"sku_id" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

type OOSTrack struct {
	OutletID   int64     `json:"outlet_id" validate:"required"`
	OutletInfo string    `json:"outlet_info"`
	Items      []OOSItem `json:"oos_data" validate:"required,min=1,dive"`
	GPS        *GeoPoint `json:"gps" validate:"required"`
}

func (p *OOSTrack) FormType() FormType      { return FormOOS }
func (p *OOSTrack) Location() *GeoPoint     { return p.GPS }
func (p *OOSTrack) MediaSlots() []MediaSlot { return nil }

type OrderLine struct {
	SKUID    int64 `json:"sku_id" validate:"required"`
	Quantity int   `json:"quantity" validate:"gte=1"`
}

type OrderTrack struct {
	OutletID   int64       `json:"outlet_id" validate:"required"`
	OutletInfo string      `json:"outlet_info"`
	Lines      []OrderLine `json:"order_data" validate:"required,min=1,dive"`
	GPS        *GeoPoint   `json:"gps" validate:"required"`
}

func (p *OrderTrack) FormType() FormType      { return FormOrder }
func (p *OrderTrack) Location() *GeoPoint     { return p.GPS }
func (p *OrderTrack) MediaSlots() []MediaSlot { return nil }

type PriceEntry struct {
	SKUID int64   `json:"sku_id" validate:"required"`
	Price float64 `json:"price" validate:"gt=0"`
}

type PriceTrack struct {
	OutletID   int64        `json:"outlet_id" validate:"required"`
	OutletInfo string       `json:"outlet_info"`
	Prices     []PriceEntry `json:"price_data" validate:"required,min=1,dive"`
	GPS        *GeoPoint    `json:"gps" validate:"required"`
}

func (p *PriceTrack) FormType() FormType      { return FormPrice }
func (p *PriceTrack) Location() *GeoPoint     { return p.GPS }
func (p *PriceTrack) MediaSlots() []MediaSlot { return nil }

// NewPayload returns an empty variant for the form type.
func NewPayload(ft FormType) (Payload, error) {
	switch ft {
	case FormOnboarding:
		return &OutletOnboarding{}, nil
	case FormPOSMDeployment:
		return &POSMDeployment{}, nil
	case FormMSLSOS:
		return &MSLSOSTrack{}, nil
	case FormOOS:
		return &OOSTrack{}, nil
	case FormOrder:
		return &OrderTrack{}, nil
	case FormPrice:
		return &PriceTrack{}, nil
	default:
		return nil, fmt.Errorf("unknown form type %q", ft)
	}
}

// DecodePayload unmarshals raw into the variant selected by ft.
func DecodePayload(ft FormType, raw json.RawMessage) (Payload, error) {
	p, err := NewPayload(ft)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload for form type %q", ft)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", ft, err)
	}
	return p, nil
}

// Envelope is the tagged JSON form of a payload.
type Envelope struct {
	FormType FormType        `json:"form_type"`
	Payload  json.RawMessage `json:"payload"`
}

func EncodeEnvelope(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{FormType: p.FormType(), Payload: body})
}

func DecodeEnvelope(data []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return DecodePayload(env.FormType, env.Payload)
}

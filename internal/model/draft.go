package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Draft is a submission that could not be committed and waits for replay.
// Drafts are never mutated once queued.
type Draft struct {
	ID          string    `json:"id"`
	FormType    FormType  `json:"form_type"`
	OwnerUserID string    `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	Payload     Payload   `json:"-"`
}

type draftJSON struct {
	ID          string          `json:"id"`
	FormType    FormType        `json:"form_type"`
	OwnerUserID string          `json:"owner_user_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
}

func (d *Draft) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(draftJSON{
		ID:          d.ID,
		FormType:    d.FormType,
		OwnerUserID: d.OwnerUserID,
		CreatedAt:   d.CreatedAt,
		Payload:     body,
	})
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	var raw draftJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := DecodePayload(raw.FormType, raw.Payload)
	if err != nil {
		return fmt.Errorf("draft %s: %w", raw.ID, err)
	}
	*d = Draft{
		ID:          raw.ID,
		FormType:    raw.FormType,
		OwnerUserID: raw.OwnerUserID,
		CreatedAt:   raw.CreatedAt,
		Payload:     p,
	}
	return nil
}

// DraftSummary is the listing view of a draft, without media bytes.
type DraftSummary struct {
	ID        string    `json:"id"`
	FormType  FormType  `json:"form_type"`
	CreatedAt time.Time `json:"created_at"`
	OutletID  int64     `json:"outlet_id,omitempty"`
	Images    int       `json:"images"`
}

func (d *Draft) Summary() DraftSummary {
	s := DraftSummary{
		ID:        d.ID,
		FormType:  d.FormType,
		CreatedAt: d.CreatedAt,
		Images:    len(d.Payload.MediaSlots()),
	}
	switch p := d.Payload.(type) {
	case *POSMDeployment:
		s.OutletID = p.OutletID
	case *MSLSOSTrack:
		s.OutletID = p.OutletID
	case *OOSTrack:
		s.OutletID = p.OutletID
	case *OrderTrack:
		s.OutletID = p.OutletID
	case *PriceTrack:
		s.OutletID = p.OutletID
	}
	return s
}

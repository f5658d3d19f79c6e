package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jwalitptl/fieldsync/internal/model"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/storage/spaces"
)

type fakeUploader struct {
	mu      sync.Mutex
	folders []string
	// failOn makes uploads to this folder fail with err.
	failOn string
	err    error
	// hang makes every upload wait for ctx like a stalled network.
	hang bool
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, folder string, loc *spaces.Location) (string, error) {
	if f.hang {
		<-ctx.Done()
		return "", apperrors.Upload(folder, ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == folder || f.failOn == "*" {
		return "", f.err
	}
	f.folders = append(f.folders, folder)
	return fmt.Sprintf("%s/obj-%d.jpg", folder, len(f.folders)), nil
}

type commitCall struct {
	submissionID string
	userID       string
	payload      model.Payload
	media        map[string]string
}

type fakeRepo struct {
	mu        sync.Mutex
	commits   []commitCall
	commitErr error
	phones    map[string]bool
	phoneErr  error
}

func (f *fakeRepo) Commit(ctx context.Context, submissionID, userID string, p model.Payload, media map[string]string) (*model.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.commits = append(f.commits, commitCall{submissionID, userID, p, media})
	return &model.Commit{SubmissionID: submissionID, FormType: p.FormType(), MediaKeys: media}, nil
}

func (f *fakeRepo) PhoneContactExists(ctx context.Context, phone string) (bool, error) {
	if f.phoneErr != nil {
		return false, f.phoneErr
	}
	return f.phones[phone], nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]*model.Draft
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]*model.Draft{}}
}

func (s *memStore) Load(ctx context.Context, userID string) ([]*model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Draft(nil), s.data[userID]...), nil
}

func (s *memStore) Update(ctx context.Context, userID string, fn func([]*model.Draft) ([]*model.Draft, error)) ([]*model.Draft, error) {
	// Redis and SQLite both refuse work on a finished context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("draft store unavailable")
	}
	next, err := fn(append([]*model.Draft(nil), s.data[userID]...))
	if err != nil {
		return nil, err
	}
	s.data[userID] = next
	return append([]*model.Draft(nil), next...), nil
}

func (s *memStore) Owners(ctx context.Context) ([]string, error) { return nil, nil }
func (s *memStore) Close() error                                 { return nil }

func shelfPayload() *model.MSLSOSTrack {
	return &model.MSLSOSTrack{
		OutletID:   12,
		OutletInfo: "Iya Bose Stores",
		SOS:        model.ShelfShare{YourSKUs: map[string]int{"4": 3}, CompetitorFacings: map[string]int{"Snacks": 5}},
		MSLCount:   7,
		GPS:        &model.GeoPoint{Latitude: 6.45, Longitude: 3.39},
		ShelfImage: []byte{1, 2, 3},
	}
}

func posmPayload() *model.POSMDeployment {
	return &model.POSMDeployment{
		OutletID:      12,
		DeployedPOSMs: []model.DeployedPOSM{{POSMID: 3, Quantity: 1}},
		GPS:           &model.GeoPoint{Latitude: 6.45, Longitude: 3.39},
		BeforeImage:   []byte{1},
		AfterImage:    []byte{2},
	}
}

func onboardingPayload(phone string) *model.OutletOnboarding {
	return &model.OutletOnboarding{
		Name:           "Chika Provisions",
		PhoneContact:   phone,
		Address:        "14 Allen Avenue",
		LocationID:     2,
		ContactPerson:  "Chika",
		Classification: "Neighbourhood",
		OutletType:     "Kiosk",
		GPS:            &model.GeoPoint{Latitude: 6.6, Longitude: 3.35},
		OutletImage:    []byte{9, 9},
	}
}

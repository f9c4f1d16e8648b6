package sleep

import (
	"context"

	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Sync validates s, fills its pattern summary and stores it under its
// natural key.
func (svc *Service) Sync(ctx context.Context, s Sleep) (Sleep, error) {
	if err := s.Validate(); err != nil {
		return s, err
	}
	return svc.repo.Upsert(ctx, s.WithSummary())
}

func (svc *Service) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	if err := validator.ObjectID(patientID); err != nil {
		return 0, err
	}
	return svc.repo.RemoveAllByPatient(ctx, patientID)
}

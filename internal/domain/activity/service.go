package activity

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

// Sync validates a and stores it under its natural key.
func (s *Service) Sync(ctx context.Context, a PhysicalActivity) (PhysicalActivity, error) {
	if err := a.Validate(); err != nil {
		return a, err
	}
	return s.repo.Upsert(ctx, a)
}

func (s *Service) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	if err := validator.ObjectID(patientID); err != nil {
		return 0, err
	}
	return s.repo.RemoveAllByPatient(ctx, patientID)
}

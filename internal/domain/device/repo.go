package device

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, d *Device) error
	GetByID(ctx context.Context, id string) (*Device, error)
	CheckExists(ctx context.Context, id string) (bool, error)
}

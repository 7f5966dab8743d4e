package storage

import (
	"context"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
)

// ConfigStore persists the admin-tunable system configuration.
type ConfigStore interface {
	GetSystemConfig(ctx context.Context) (*models.SystemConfig, error)
	UpdateSystemConfig(ctx context.Context, cfg *models.SystemConfig) error
	// CompareAndSwapSystemConfig writes cfg only if the stored config still
	// has UpdatedAt equal to prev. A zero prev means no config is stored yet.
	// Returns ErrInvalidState when another write got there first.
	CompareAndSwapSystemConfig(ctx context.Context, cfg *models.SystemConfig, prev time.Time) error
}

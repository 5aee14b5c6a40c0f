package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// SettingsCache holds tenant settings keyed by tenant id. A miss is reported
// as (nil, false, nil); errors are reserved for backend failures.
type SettingsCache interface {
	Get(ctx context.Context, tenantID string) (*domain.Settings, bool, error)
	Set(ctx context.Context, tenantID string, value *domain.Settings, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context, _ string) (*domain.Settings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ string, _ *domain.Settings, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Delete(_ context.Context, _ string) error {
	return nil
}

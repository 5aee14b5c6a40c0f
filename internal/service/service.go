package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultCompensationTimeout = 10 * time.Second
	defaultSettingsTTL         = time.Minute
	defaultTaxRatePercent      = 8.0
)

type Options struct {
	Cache          cache.SettingsCache
	CacheTTL       time.Duration
	DefaultTaxRate *float64
	Metrics        *metrics.POSMetrics
	Tracer         trace.Tracer
}

type Service struct {
	repo                store.Repository
	cache               cache.SettingsCache
	cacheTTL            time.Duration
	defaultTaxRate      float64
	metrics             *metrics.POSMetrics
	tracer              trace.Tracer
	settingsGroup       singleflight.Group
	compensationTimeout time.Duration
	now                 func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	svc := &Service{
		repo:                repo,
		cache:               opts.Cache,
		cacheTTL:            opts.CacheTTL,
		defaultTaxRate:      defaultTaxRatePercent,
		metrics:             opts.Metrics,
		tracer:              opts.Tracer,
		compensationTimeout: defaultCompensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
	if svc.cache == nil {
		svc.cache = cache.NoopSettingsCache{}
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = defaultSettingsTTL
	}
	if opts.DefaultTaxRate != nil {
		svc.defaultTaxRate = *opts.DefaultTaxRate
	}
	if svc.metrics == nil {
		svc.metrics = metrics.New()
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("retailpos/service")
	}
	return svc
}

// actorFrom returns the principal attached by the transport layer. Every
// tenant-scoped operation goes through here, so no code path derives the
// tenant id from request input.
func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s", ErrForbidden, actor.Role)
	}
	return actor, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	settings, err := s.settingsFor(ctx, actor.TenantID)
	if err != nil {
		return domain.Settings{}, err
	}
	if settings.TaxRatePercent == nil {
		rate := s.defaultTaxRate
		settings.TaxRatePercent = &rate
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Settings{}, err
	}

	current, err := s.loadSettings(ctx, actor.TenantID)
	if err != nil {
		return domain.Settings{}, err
	}

	updated := current
	if req.TaxRatePercent != nil {
		if *req.TaxRatePercent < 0 || *req.TaxRatePercent > 100 {
			return domain.Settings{}, invalid("taxRatePercent", "must be between 0 and 100")
		}
		rate := *req.TaxRatePercent
		updated.TaxRatePercent = &rate
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if len(currency) != 3 {
			return domain.Settings{}, invalid("currency", "must be a three-letter code")
		}
		updated.Currency = currency
	}
	if req.Locale != nil {
		updated.Locale = strings.TrimSpace(*req.Locale)
	}
	if req.TransactionPrefix != nil {
		updated.TransactionPrefix = strings.ToUpper(strings.TrimSpace(*req.TransactionPrefix))
	}
	if req.ReceiptHeader != nil {
		updated.ReceiptHeader = *req.ReceiptHeader
	}
	if req.ReceiptFooter != nil {
		updated.ReceiptFooter = *req.ReceiptFooter
	}
	if req.LoyaltyEnabled != nil {
		updated.LoyaltyEnabled = *req.LoyaltyEnabled
	}

	saved, err := s.repo.UpsertSettings(ctx, updated)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := s.cache.Delete(ctx, actor.TenantID); err != nil {
		log.Printf("[service] WARN: failed to invalidate settings cache tenant=%s: %v", actor.TenantID, err)
	}
	return *saved, nil
}

// settingsFor serves tenant settings through the cache. Concurrent misses for
// the same tenant share one store read.
func (s *Service) settingsFor(ctx context.Context, tenantID string) (domain.Settings, error) {
	cached, ok, err := s.cache.Get(ctx, tenantID)
	if err != nil {
		log.Printf("[service] WARN: settings cache read failed tenant=%s: %v", tenantID, err)
	}
	if ok && cached != nil {
		s.metrics.SettingsCacheHits.Inc()
		return *cached, nil
	}
	s.metrics.SettingsCacheMisses.Inc()

	// The shared read outlives any single waiter, so it must not inherit the
	// first caller's cancellation.
	v, err, _ := s.settingsGroup.Do(tenantID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
		defer cancel()

		settings, err := s.loadSettings(loadCtx, tenantID)
		if err != nil {
			return domain.Settings{}, err
		}
		if err := s.cache.Set(loadCtx, tenantID, &settings, s.cacheTTL); err != nil {
			log.Printf("[service] WARN: settings cache write failed tenant=%s: %v", tenantID, err)
		}
		return settings, nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	return v.(domain.Settings), nil
}

func (s *Service) loadSettings(ctx context.Context, tenantID string) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err == nil {
		return *settings, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return domain.Settings{
		TenantID:       tenantID,
		Currency:       "USD",
		Locale:         "en-US",
		LoyaltyEnabled: true,
	}, nil
}

func (s *Service) taxRate(settings domain.Settings) float64 {
	if settings.TaxRatePercent != nil {
		return *settings.TaxRatePercent
	}
	return s.defaultTaxRate
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentDigital:
		return true
	default:
		return false
	}
}

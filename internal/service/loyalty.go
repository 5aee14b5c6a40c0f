package service

import (
	"context"
	"fmt"
	"log"

	"retailpos/backend/internal/domain"
)

const pendingLoyaltyBatch = 100

// applyLoyalty credits the customer for a recorded sale. The store keys the
// accrual on the transaction id, so running it again after a partial failure
// never double-counts. Failures leave LoyaltyAccrued false for the sweeper.
func (s *Service) applyLoyalty(ctx context.Context, tx *domain.Transaction) (*domain.Customer, bool) {
	if tx.CustomerID == "" || tx.LoyaltyAccrued {
		return nil, false
	}
	accrueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	customer, err := s.repo.AccrueLoyalty(accrueCtx, tx.TenantID, tx.CustomerID, domain.LoyaltyAccrual{
		TransactionID: tx.ID,
		Points:        tx.LoyaltyPointsEarned,
		Spend:         tx.Total,
		At:            tx.CreatedAt,
	})
	if err != nil {
		s.metrics.LoyaltyAccruals.WithLabelValues("failed").Inc()
		log.Printf("[service] WARN: loyalty accrual deferred tenant=%s transaction=%s customer=%s: %v",
			tx.TenantID, tx.ID, tx.CustomerID, err)
		return nil, false
	}

	if err := s.repo.MarkLoyaltyAccrued(accrueCtx, tx.TenantID, tx.ID); err != nil {
		// The accrual itself is applied; the sweeper will replay it as a no-op.
		log.Printf("[service] WARN: failed to flag loyalty accrued tenant=%s transaction=%s: %v", tx.TenantID, tx.ID, err)
	} else {
		tx.LoyaltyAccrued = true
	}
	s.metrics.LoyaltyAccruals.WithLabelValues("applied").Inc()
	return customer, true
}

// RetryPendingLoyalty replays deferred accruals for the caller's tenant.
func (s *Service) RetryPendingLoyalty(ctx context.Context) (domain.LoyaltyRetryResult, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.LoyaltyRetryResult{}, err
	}
	return s.retryPendingLoyalty(ctx, actor.TenantID)
}

// SweepPendingLoyalty runs the retry for every tenant. It is meant for the
// background loop in cmd/server and carries no principal.
func (s *Service) SweepPendingLoyalty(ctx context.Context) (domain.LoyaltyRetryResult, error) {
	tenants, err := s.repo.ListTenants(ctx)
	if err != nil {
		return domain.LoyaltyRetryResult{}, fmt.Errorf("list tenants: %w", err)
	}

	var total domain.LoyaltyRetryResult
	for _, tenant := range tenants {
		result, err := s.retryPendingLoyalty(ctx, tenant.ID)
		if err != nil {
			log.Printf("[service] WARN: loyalty sweep failed tenant=%s: %v", tenant.ID, err)
			continue
		}
		total.Attempted += result.Attempted
		total.Applied += result.Applied
		total.Failed += result.Failed
	}
	return total, nil
}

func (s *Service) retryPendingLoyalty(ctx context.Context, tenantID string) (domain.LoyaltyRetryResult, error) {
	pending, err := s.repo.ListPendingLoyalty(ctx, tenantID, pendingLoyaltyBatch)
	if err != nil {
		return domain.LoyaltyRetryResult{}, fmt.Errorf("list pending loyalty: %w", err)
	}

	var result domain.LoyaltyRetryResult
	for i := range pending {
		result.Attempted++
		if _, ok := s.applyLoyalty(ctx, &pending[i]); ok {
			s.metrics.LoyaltyAccruals.WithLabelValues("retried").Inc()
			result.Applied++
			continue
		}
		result.Failed++
	}
	return result, nil
}

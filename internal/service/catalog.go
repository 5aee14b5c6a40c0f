package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, actor.TenantID, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, notFound(EntityProduct, id)
		}
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		TenantID:     actor.TenantID,
		SKU:          normalizeSKU(req.SKU),
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		Price:        req.Price,
		CostPrice:    req.CostPrice,
		Stock:        req.Stock,
		ReorderLevel: req.ReorderLevel,
		CategoryID:   strings.TrimSpace(req.CategoryID),
		SupplierID:   strings.TrimSpace(req.SupplierID),
		IsActive:     true,
	}
	switch {
	case product.SKU == "":
		return domain.Product{}, invalid("sku", "is required")
	case product.Name == "":
		return domain.Product{}, invalid("name", "is required")
	case product.Price < 0:
		return domain.Product{}, invalid("price", "must not be negative")
	case product.CostPrice < 0:
		return domain.Product{}, invalid("costPrice", "must not be negative")
	case product.Stock < 0:
		return domain.Product{}, invalid("stock", "must not be negative")
	case product.ReorderLevel < 0:
		return domain.Product{}, invalid("reorderLevel", "must not be negative")
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, notFound(EntityProduct, id)
		}
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("name", "must not be empty")
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return domain.Product{}, invalid("price", "must not be negative")
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, invalid("costPrice", "must not be negative")
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, invalid("reorderLevel", "must not be negative")
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.CategoryID != nil {
		updated.CategoryID = strings.TrimSpace(*req.CategoryID)
	}
	if req.SupplierID != nil {
		updated.SupplierID = strings.TrimSpace(*req.SupplierID)
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, notFound(EntityProduct, id)
		}
		return domain.Product{}, err
	}
	if existing.Price != saved.Price {
		log.Printf("[service] product price changed tenant=%s product=%s old=%s new=%s by=%s",
			actor.TenantID, saved.ID, existing.Price, saved.Price, actor.Username)
	}
	return *saved, nil
}

// AdjustInventory applies a signed stock correction outside the sale path.
func (s *Service) AdjustInventory(ctx context.Context, productID string, delta int) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}
	if delta == 0 {
		return domain.Product{}, invalid("amount", "must not be zero")
	}

	product, err := s.repo.AdjustStock(ctx, actor.TenantID, productID, delta)
	if err != nil {
		s.metrics.InventoryAdjustments.WithLabelValues("rejected").Inc()
		var adjErr *store.AdjustmentError
		switch {
		case errors.As(err, &adjErr):
			return domain.Product{}, &InvalidAdjustmentError{ProductID: productID, Stock: adjErr.Stock, Delta: delta}
		case errors.Is(err, store.ErrNotFound):
			return domain.Product{}, notFound(EntityProduct, productID)
		default:
			return domain.Product{}, fmt.Errorf("adjust stock: %w", err)
		}
	}

	s.metrics.InventoryAdjustments.WithLabelValues("ok").Inc()
	log.Printf("[service] inventory adjusted tenant=%s product=%s delta=%+d stock=%d by=%s",
		actor.TenantID, productID, delta, product.Stock, actor.Username)
	return *product, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, actor.TenantID)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Customer{}, notFound(EntityCustomer, id)
		}
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	customer := domain.Customer{
		TenantID: actor.TenantID,
		Name:     strings.TrimSpace(req.Name),
		Email:    normalizeEmail(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Status:   domain.CustomerActive,
	}
	if customer.Name == "" {
		return domain.Customer{}, invalid("name", "is required")
	}
	if _, err := mail.ParseAddress(customer.Email); err != nil {
		return domain.Customer{}, invalid("email", "must be a valid address")
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

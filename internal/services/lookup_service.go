package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ainopay/internal/core"
	"ainopay/internal/ports"
)

var ErrInvalidCategoryName = fmt.Errorf("%w: category name must be between 2 and 100 characters", core.ErrValidation)

// LookupService exposes categories and payment methods.
type LookupService struct {
	repo ports.LookupRepository
}

func NewLookupService(repo ports.LookupRepository) *LookupService {
	return &LookupService{repo: repo}
}

func (s *LookupService) Categories(ctx context.Context) ([]core.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *LookupService) PaymentMethods(ctx context.Context) ([]core.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

func (s *LookupService) CreateCategory(ctx context.Context, name, description string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if n := len([]rune(name)); n < 2 || n > 100 {
		return core.Category{}, ErrInvalidCategoryName
	}
	c := core.Category{Name: name, Description: strings.TrimSpace(description)}
	if err := s.repo.CreateCategory(ctx, &c); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (s *LookupService) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteCategory(ctx, id)
}

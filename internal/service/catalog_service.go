package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
)

// CatalogService serves the read side of the product catalog
type CatalogService struct {
	store *store.Store
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store) *CatalogService {
	return &CatalogService{store: store}
}

// ListProducts returns every published product with its availability
func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	products, err := s.store.ListPublishedProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// GetProduct returns a published product by slug
func (s *CatalogService) GetProduct(ctx context.Context, slug string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct")
	defer span.End()

	product, err := s.store.GetProductBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("product")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !product.Published {
		return nil, apperrors.NotFound("product")
	}
	return product, nil
}

// resolveSize checks size against the product's defined sizes. Unsized
// products accept only the empty size.
func resolveSize(p *models.Product, size string) (string, error) {
	size = strings.TrimSpace(size)
	if !p.HasSizes {
		if size != models.NoSize {
			return "", sizeError("must be empty for this product")
		}
		return models.NoSize, nil
	}
	if size == models.NoSize {
		return "", sizeError("is required")
	}
	if !p.HasSize(size) {
		return "", sizeError(fmt.Sprintf("must be one of [%s]", strings.Join(definedSizes(p), " ")))
	}
	return size, nil
}

func sizeError(msg string) error {
	return apperrors.New(apperrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"size": msg})
}

func definedSizes(p *models.Product) []string {
	sizes := make([]string, 0, len(p.Availability))
	for size := range p.Availability {
		if size != models.NoSize {
			sizes = append(sizes, size)
		}
	}
	sort.Strings(sizes)
	return sizes
}

package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/validation"

	"go.uber.org/zap"
)

const maxLineQuantity = 99

// CartService manages the per-user cart
type CartService struct {
	store   *store.Store
	pricing Pricing
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, pricing Pricing) *CartService {
	return &CartService{
		store:   store,
		pricing: pricing,
		logger:  util.GetLogger(),
	}
}

// AddCartItemRequest adds quantity of a product (and size) to the cart
type AddCartItemRequest struct {
	ProductID int64  `json:"productId" validate:"required,min=1"`
	Size      string `json:"size" validate:"max=20"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

// UpdateCartItemRequest sets the quantity of a cart line
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=99"`
}

// CartView is the cart with live prices and a totals preview
type CartView struct {
	Items []models.CartItem `json:"items"`
	Totals
}

// GetCart returns the caller's cart
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := s.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.store, cart.ID)
}

// AddItem merges a line into the cart. The resulting quantity is checked
// against current availability; checkout re-checks it atomically.
func (s *CartService) AddItem(ctx context.Context, userID int64, req *AddCartItemRequest) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("product")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if !product.Published {
		return nil, apperrors.NotFound("product")
	}

	size, err := resolveSize(product, req.Size)
	if err != nil {
		return nil, err
	}

	var view *CartView
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}

		_, quantity, err := tx.AddCartItem(ctx, cart.ID, product.ID, size, req.Quantity)
		if err != nil {
			return err
		}
		if err := checkLineQuantity(product, size, quantity); err != nil {
			return err
		}

		view, err = s.view(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", product.ID),
		zap.String("size", size))
	return view, nil
}

// UpdateItem sets the quantity of one of the caller's cart lines
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID int64, req *UpdateCartItemRequest) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var view *CartView
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return err
		}

		item, err := tx.GetCartItem(ctx, cart.ID, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("cart item")
		}
		if err != nil {
			return err
		}

		available, err := tx.GetStockQuantity(ctx, item.ProductID, item.Size)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if req.Quantity > available {
			return apperrors.InsufficientStock(apperrors.StockShortage{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Size:        item.Size,
				Available:   available,
				Requested:   req.Quantity,
			})
		}

		if err := tx.UpdateCartItemQuantity(ctx, cart.ID, itemID, req.Quantity); err != nil {
			return err
		}

		view, err = s.view(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes one of the caller's cart lines
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, err := s.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("cart item")
		}
		return nil, err
	}
	return s.view(ctx, s.store, cart.ID)
}

// ClearCart empties the caller's cart
func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart")
	defer span.End()

	cart, err := s.store.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.ClearCart(ctx, cart.ID)
}

type cartReader interface {
	ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
}

func (s *CartService) view(ctx context.Context, r cartReader, cartID int64) (*CartView, error) {
	items, err := r.ListCartItems(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}

	var subtotal int64
	for _, item := range items {
		if item.Published {
			subtotal += item.Price * int64(item.Quantity)
		}
	}
	return &CartView{Items: items, Totals: s.pricing.Quote(subtotal, 0)}, nil
}

func checkLineQuantity(p *models.Product, size string, quantity int) error {
	if quantity > maxLineQuantity {
		return apperrors.New(apperrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"quantity": fmt.Sprintf("must be at most %d", maxLineQuantity)})
	}
	if available := p.Availability[size]; quantity > available {
		return apperrors.InsufficientStock(apperrors.StockShortage{
			ProductID:   p.ID,
			ProductName: p.Name,
			Size:        size,
			Available:   available,
			Requested:   quantity,
		})
	}
	return nil
}

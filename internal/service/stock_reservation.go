package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// StockReservation decrements and restores per-size stock inside the
// caller's transaction.
type StockReservation struct {
	logger *zap.Logger
}

// NewStockReservation creates a new stock reservation component
func NewStockReservation() *StockReservation {
	return &StockReservation{logger: util.GetLogger()}
}

// Reserve takes every line's quantity with one guarded decrement per line.
// Lines are reserved in (product, size) order so concurrent checkouts lock
// stock rows in the same order. The first shortfall aborts with
// INSUFFICIENT_STOCK; undoing earlier lines is left to the transaction
// rollback.
func (r *StockReservation) Reserve(ctx context.Context, tx *store.Tx, lines []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "StockReservation.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for _, line := range sortedLines(lines) {
		ok, err := tx.DecrementStock(ctx, line.ProductID, line.Size, line.Quantity)
		if err != nil {
			util.StockReservationsFailed.WithLabelValues("error").Inc()
			util.RecordError(span, err)
			return fmt.Errorf("failed to reserve stock for product %d: %w", line.ProductID, err)
		}
		if ok {
			continue
		}

		available, err := tx.GetStockQuantity(ctx, line.ProductID, line.Size)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to read stock for product %d: %w", line.ProductID, err)
		}

		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return apperrors.InsufficientStock(apperrors.StockShortage{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Size:        line.Size,
			Available:   available,
			Requested:   line.Quantity,
		})
	}

	return nil
}

// Release returns every line's quantity to stock.
func (r *StockReservation) Release(ctx context.Context, tx *store.Tx, lines []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "StockReservation.Release")
	defer span.End()

	for _, line := range sortedLines(lines) {
		ok, err := tx.IncrementStock(ctx, line.ProductID, line.Size, line.Quantity)
		if err != nil {
			util.RecordError(span, err)
			return fmt.Errorf("failed to release stock for product %d: %w", line.ProductID, err)
		}
		if !ok {
			r.logger.Warn("Stock row missing on release, skipping",
				zap.Int64("product_id", line.ProductID),
				zap.String("size", line.Size),
				zap.Int("quantity", line.Quantity))
		}
	}
	return nil
}

func sortedLines(lines []models.OrderItem) []models.OrderItem {
	sorted := make([]models.OrderItem, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].Size < sorted[j].Size
	})
	return sorted
}

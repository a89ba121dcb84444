package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsThroughWrapping(t *testing.T) {
	base := InsufficientStock(StockShortage{ProductID: 7, ProductName: "Pad Chuột", Available: 0, Requested: 1})
	wrapped := fmt.Errorf("create order: %w", base)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeInsufficientStock, typed.Code())
	assert.True(t, HasCode(wrapped, CodeInsufficientStock))
	assert.False(t, HasCode(wrapped, CodeNotFound))

	details, ok := typed.Details().(StockShortage)
	require.True(t, ok)
	assert.Equal(t, int64(7), details.ProductID)
}

func TestInsufficientStockMessageNamesSize(t *testing.T) {
	err := InsufficientStock(StockShortage{ProductName: "Áo Thun", Size: "M", Available: 1, Requested: 2})
	assert.Contains(t, err.Message(), "size M")
	assert.Contains(t, err.Message(), "available=1")
}

func TestInvalidStatusTransition(t *testing.T) {
	err := InvalidStatusTransition("SHIPPING", "CONFIRMED")
	assert.Equal(t, CodeInvalidStatusTransition, err.Code())
	assert.Equal(t, StatusTransition{Current: "SHIPPING", Requested: "CONFIRMED"}, err.Details())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodePaymentLinkFailed, cause, "provider unavailable")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestMetadataFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, MetadataFor(CodePaymentLinkFailed).HTTPStatus)
	assert.True(t, MetadataFor(CodePaymentLinkFailed).Retryable)
	assert.Equal(t, http.StatusConflict, MetadataFor(CodeInsufficientStock).HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, MetadataFor(Code("UNKNOWN")).HTTPStatus)
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Nil(t, As(nil))
}

package api

import (
	"net/http"
	"strconv"
	"strings"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if !h.bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), id.UserID, &req, c.GetHeader(idempotencyHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns one of the caller's orders with items and address
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id.UserID, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id.UserID, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) issuePaymentLink(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	link, err := h.payments.IssuePaymentLink(c.Request.Context(), id.UserID, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *Handler) adminListOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := models.OrderStatus(strings.ToUpper(c.Query("status")))

	orders, err := h.orders.ListAllOrders(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) adminUpdateStatus(c *gin.Context) {
	orderID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.New(apperrors.CodeValidation, "invalid "+name).
			WithDetails(map[string]string{name: "must be a non-negative integer"})
	}
	return n, nil
}

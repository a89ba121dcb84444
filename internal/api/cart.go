package api

import (
	"net/http"

	"storefront-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) getCart(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	var req service.AddCartItemRequest
	if !h.bindJSON(c, &req) {
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), id.UserID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	itemID, ok := h.pathID(c, "itemId")
	if !ok {
		return
	}

	var req service.UpdateCartItemRequest
	if !h.bindJSON(c, &req) {
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), id.UserID, itemID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}
	itemID, ok := h.pathID(c, "itemId")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), id.UserID, itemID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	id, ok := h.caller(c)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(c.Request.Context(), id.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

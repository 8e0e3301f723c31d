package httpserver

import (
	"context"
	"net/http"
	"strings"

	"cartservice/internal/domain"

	"github.com/gin-gonic/gin"
)

// CartService is the cart service as used by the HTTP routes.
type CartService interface {
	AddQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.CartView, error)
	GetCart(ctx context.Context, userID string) (*domain.CartView, error)
	GetByUserID(ctx context.Context, userID string) (*domain.CartView, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	DeleteCart(ctx context.Context, cartID string) (*domain.Cart, error)
}

type cartItemRequest struct {
	UserID    string `json:"userId" binding:"required"`
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type cartHandlers struct {
	svc CartService
}

func (h *cartHandlers) getCart(c *gin.Context) {
	view, err := h.svc.GetCart(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *cartHandlers) addToCart(c *gin.Context) {
	var req cartItemRequest
	if !bindItem(c, &req) {
		return
	}
	view, err := h.svc.AddQuantity(c.Request.Context(), req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *cartHandlers) setQuantity(c *gin.Context) {
	var req cartItemRequest
	if !bindItem(c, &req) {
		return
	}
	view, err := h.svc.SetQuantity(c.Request.Context(), req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *cartHandlers) removeItem(c *gin.Context) {
	view, err := h.svc.SetQuantity(c.Request.Context(), c.Param("userId"), c.Param("productId"), 0)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *cartHandlers) getByUserID(c *gin.Context) {
	view, err := h.svc.GetByUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *cartHandlers) getUser(c *gin.Context) {
	user, err := h.svc.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *cartHandlers) deleteCart(c *gin.Context) {
	cart, err := h.svc.DeleteCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func bindItem(c *gin.Context, req *cartItemRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: "INVALID_PAYLOAD", Message: "userId and productId required"})
		return false
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.UserID == "" || req.ProductID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Code: "INVALID_PAYLOAD", Message: "userId and productId required"})
		return false
	}
	return true
}

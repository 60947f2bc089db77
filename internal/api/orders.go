package api

import (
	"errors"
	"net/http"

	"soilify/internal/models"
	"soilify/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles checkout. A partially failed stock update still returns
// 201 with the failures listed under warnings.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.workflow.PlaceOrder(c.Request.Context(), identity(c), &req)
	var partial *service.PartialFailureError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"order": order})
	case errors.As(err, &partial) && order != nil:
		c.JSON(http.StatusCreated, gin.H{
			"order":    order,
			"warnings": partial.Warnings(),
		})
	default:
		h.writeError(c, err)
	}
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.workflow.ListOrders(c.Request.Context(), identity(c), models.OrderFilter{
		Status: c.Query("status"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.workflow.ListOrders(c.Request.Context(), identity(c), models.OrderFilter{
		Status: c.Query("status"),
		Phone:  c.Query("phone"),
		UserID: c.Query("userId"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.workflow.GetOrder(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) allowedActions(c *gin.Context) {
	actor := identity(c)
	order, err := h.workflow.GetOrder(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": service.AllowedActions(actor, order)})
}

func (h *Handler) advanceOrder(c *gin.Context) {
	var payload service.StatusPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			badRequest(c, err)
			return
		}
	}

	order, err := h.workflow.AdvanceStatus(c.Request.Context(), identity(c), c.Param("id"),
		service.Action(c.Param("action")), payload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type clearHistoryRequest struct {
	Statuses []string `json:"statuses"`
}

func (h *Handler) clearHistory(c *gin.Context) {
	var req clearHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	removed, err := h.workflow.ClearHistory(c.Request.Context(), identity(c), req.Statuses)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) summary(c *gin.Context) {
	s, err := h.workflow.Summary(c.Request.Context(), identity(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

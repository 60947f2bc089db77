package api

import (
	"net/http"

	"soilify/internal/models"
	"soilify/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context(), models.ProductFilter{
		Category: c.Query("category"),
		Search:   c.Query("search"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) getStock(c *gin.Context) {
	id := c.Param("id")
	stock, err := h.catalog.Stock(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": id, "stockCount": stock, "inStock": stock > 0})
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), identity(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": p})
}

func (h *Handler) updateProduct(c *gin.Context) {
	var patch models.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), identity(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), identity(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// quoteShipping returns the flat fee for a delivery district
func (h *Handler) quoteShipping(c *gin.Context) {
	addr := models.Address{
		Location: c.Query("location"),
		District: c.Query("district"),
	}
	fee, err := h.shipping.Quote(c.Request.Context(), addr)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"region": addr.Region(), "fee": fee})
}

func (h *Handler) listShippingRates(c *gin.Context) {
	rates, err := h.shipping.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rates})
}

type shippingRateRequest struct {
	Fee decimal.Decimal `json:"fee"`
}

func (h *Handler) upsertShippingRate(c *gin.Context) {
	var req shippingRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.shipping.Upsert(c.Request.Context(), identity(c), c.Param("region"), req.Fee); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"region": c.Param("region"), "fee": req.Fee})
}

func (h *Handler) deleteShippingRate(c *gin.Context) {
	if err := h.shipping.Delete(c.Request.Context(), identity(c), c.Param("region")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"soilify/internal/service"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the hex HMAC of a gateway callback body.
const SignatureHeader = "X-Soilify-Signature"

func (h *Handler) createCheckout(c *gin.Context) {
	var in service.CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.payments.CreateCheckout(c.Request.Context(), identity(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// paymentCallback receives gateway outcomes. The raw body is read once so the
// signature covers exactly what was sent.
func (h *Handler) paymentCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, err)
		return
	}
	if !h.payments.VerifySignature(body, c.GetHeader(SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var cb service.PaymentCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.payments.HandleCallback(c.Request.Context(), cb); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

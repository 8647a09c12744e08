package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleStripeWebhook verifies and routes one Stripe event. Signature
// verification needs the raw request body. Handler failures map to 5xx
// so Stripe retries the delivery.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhooks.ProcessEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/meterbill/internal/checkout/domain"
)

type subscriptionCheckoutRequest struct {
	PlanCode   string `json:"planCode"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	Seats      *int   `json:"seats"`
}

// CreateSubscriptionCheckout starts a hosted subscription checkout for
// a team, creating the external customer lazily.
func (s *Server) CreateSubscriptionCheckout(c *gin.Context) {
	var req subscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.PlanCode) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.checkouts.CreateSubscriptionCheckout(c.Request.Context(), checkoutdomain.SubscriptionCheckoutInput{
		AppID:      c.Param("appId"),
		TeamID:     c.Param("teamId"),
		PlanCode:   strings.TrimSpace(req.PlanCode),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Seats:      req.Seats,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type topupCheckoutRequest struct {
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	SuccessURL  string `json:"successUrl"`
	CancelURL   string `json:"cancelUrl"`
}

// CreateTopupCheckout starts a one-off payment-mode checkout that
// credits the team wallet on completion.
func (s *Server) CreateTopupCheckout(c *gin.Context) {
	var req topupCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.checkouts.CreateTopupCheckout(c.Request.Context(), checkoutdomain.TopupCheckoutInput{
		AppID:       c.Param("appId"),
		TeamID:      c.Param("teamId"),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

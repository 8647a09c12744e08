package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
)

type walletConfigRequest struct {
	AutoTopUpEnabled bool   `json:"autoTopUpEnabled"`
	ThresholdMinor   int64  `json:"thresholdMinor"`
	TopUpAmountMinor int64  `json:"topUpAmountMinor"`
	Currency         string `json:"currency"`
}

// UpsertWalletConfig sets the team's auto-topup policy.
func (s *Server) UpsertWalletConfig(c *gin.Context) {
	var req walletConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.AutoTopUpEnabled && (req.ThresholdMinor <= 0 || req.TopUpAmountMinor <= 0) {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	team, err := s.teams.GetTeam(ctx, c.Param("appId"), c.Param("teamId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cfg, err := s.wallets.UpsertConfig(ctx, walletdomain.UpsertConfigInput{
		TeamID:           team.ID,
		AppID:            c.Param("appId"),
		AutoTopUpEnabled: req.AutoTopUpEnabled,
		ThresholdMinor:   req.ThresholdMinor,
		TopUpAmountMinor: req.TopUpAmountMinor,
		Currency:         req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

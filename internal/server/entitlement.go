package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetEntitlements resolves the effective entitlements for a team.
func (s *Server) GetEntitlements(c *gin.Context) {
	entitlements, err := s.entitlements.Resolve(c.Request.Context(), c.Param("appId"), c.Param("teamId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, entitlements)
}

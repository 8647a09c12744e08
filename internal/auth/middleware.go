package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/meterbill/internal/auth/domain"
	"github.com/smallbiznis/meterbill/internal/config"
)

const (
	claimsContextKey = "auth_claims"
	adminKeyHeader   = "x-admin-api-key"
)

// ClaimsFromContext returns the verified claims set by the JWT
// middleware, or nil on unauthenticated routes.
func ClaimsFromContext(c *gin.Context) *authdomain.Claims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*authdomain.Claims)
	return claims
}

// JWT verifies the Authorization bearer token and attaches its claims
// to the request context.
func JWT(verifier authdomain.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, authdomain.ErrTokenReplayed) {
				abort(c, http.StatusUnauthorized, "token_replayed", "Token has already been used")
				return
			}
			abort(c, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireAppMatch rejects tokens minted for a different app than the
// one addressed by the route.
func RequireAppMatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil || claims.AppID != c.Param("appId") {
			abort(c, http.StatusForbidden, "forbidden", "Token does not grant access to this app")
			return
		}
		c.Next()
	}
}

// AdminKey guards the admin surface with the static API key.
func AdminKey(cfg config.Config) gin.HandlerFunc {
	expected := []byte(cfg.AdminAPIKey)
	return func(c *gin.Context) {
		provided := []byte(c.GetHeader(adminKeyHeader))
		if len(expected) == 0 ||
			subtle.ConstantTimeCompare(provided, expected) != 1 {
			abort(c, http.StatusForbidden, "forbidden", "Invalid admin API key")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      code,
		"message":    message,
		"statusCode": status,
		"requestId":  c.GetString("request_id"),
	})
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
)

type createUserRequest struct {
	ExternalRef string `json:"externalRef"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	BillingMode string `json:"billingMode"`
	Currency    string `json:"currency"`
}

// CreateUser provisions a user with their personal team and billing
// entity, idempotently on (appId, externalRef).
func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.teams.CreateUser(c.Request.Context(), teamdomain.CreateUserInput{
		AppID:       c.Param("appId"),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		Email:       strings.TrimSpace(req.Email),
		Name:        strings.TrimSpace(req.Name),
		BillingMode: teamdomain.BillingMode(req.BillingMode),
		Currency:    req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"user":          userView(result.User),
		"team":          teamView(result.Team),
		"billingEntity": billingEntityView(result.BillingEntity),
		"created":       result.Created,
	})
}

type createTeamRequest struct {
	Name           string `json:"name"`
	BillingMode    string `json:"billingMode"`
	Currency       string `json:"currency"`
	ExternalTeamID string `json:"externalTeamId"`
}

// CreateTeam provisions a standard team, idempotently on the optional
// externalTeamId.
func (s *Server) CreateTeam(c *gin.Context) {
	var req createTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.teams.CreateTeam(c.Request.Context(), teamdomain.CreateTeamInput{
		AppID:          c.Param("appId"),
		Name:           strings.TrimSpace(req.Name),
		BillingMode:    teamdomain.BillingMode(req.BillingMode),
		Currency:       req.Currency,
		ExternalTeamID: strings.TrimSpace(req.ExternalTeamID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"team":          teamView(result.Team),
		"billingEntity": billingEntityView(result.BillingEntity),
		"created":       result.Created,
	})
}

type addMemberRequest struct {
	ExternalRef string `json:"externalRef"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// AddTeamMember adds or reactivates a membership.
func (s *Server) AddTeamMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	role := teamdomain.MemberRole(req.Role)
	if role == "" {
		role = teamdomain.MemberRoleMember
	}

	member, err := s.teams.AddMember(c.Request.Context(), teamdomain.AddMemberInput{
		AppID:       c.Param("appId"),
		TeamID:      c.Param("teamId"),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		Email:       strings.TrimSpace(req.Email),
		Role:        role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        member.ID,
		"teamId":    member.TeamID,
		"userId":    member.UserID,
		"role":      member.Role,
		"status":    member.Status,
		"startedAt": member.StartedAt,
	})
}

func userView(u teamdomain.User) gin.H {
	return gin.H{
		"id":          u.ID,
		"appId":       u.AppID,
		"externalRef": u.ExternalRef,
		"email":       u.Email,
		"createdAt":   u.CreatedAt,
	}
}

func teamView(t teamdomain.Team) gin.H {
	return gin.H{
		"id":          t.ID,
		"appId":       t.AppID,
		"name":        t.Name,
		"kind":        t.Kind,
		"billingMode": t.BillingMode,
		"currency":    t.DefaultCurrency,
		"createdAt":   t.CreatedAt,
	}
}

func billingEntityView(b teamdomain.BillingEntity) gin.H {
	return gin.H{
		"id":     b.ID,
		"type":   b.Type,
		"teamId": b.TeamID,
	}
}

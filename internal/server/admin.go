package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
)

type createAppRequest struct {
	Name string `json:"name"`
}

// CreateApp provisions a tenant.
func (s *Server) CreateApp(c *gin.Context) {
	var req createAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	created, err := s.apps.CreateApp(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        created.ID,
		"name":      created.Name,
		"status":    created.Status,
		"createdAt": created.CreatedAt,
	})
}

// MintAppSecret mints a signing secret. The plaintext secret appears in
// this response and nowhere else.
func (s *Server) MintAppSecret(c *gin.Context) {
	minted, err := s.apps.MintSecret(c.Request.Context(), c.Param("appId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"kid":    minted.Kid,
		"secret": minted.Secret,
	})
}

// RevokeAppSecret revokes a signing secret; tokens signed with it stop
// verifying immediately.
func (s *Server) RevokeAppSecret(c *gin.Context) {
	if err := s.apps.RevokeSecret(c.Request.Context(), c.Param("appId"), c.Param("kid")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

type createPlanRequest struct {
	AppID       string                  `json:"appId"`
	Code        string                  `json:"code"`
	Name        string                  `json:"name"`
	ProductMaps []productMapRequestItem `json:"productMaps"`
}

type productMapRequestItem struct {
	Kind            string `json:"kind"`
	StripeProductID string `json:"stripeProductId"`
	StripePriceID   string `json:"stripePriceId"`
}

// CreatePlan provisions a plan with its external product mappings.
func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	input := plandomain.CreatePlanInput{
		AppID: req.AppID,
		Code:  strings.TrimSpace(req.Code),
		Name:  strings.TrimSpace(req.Name),
	}
	for _, m := range req.ProductMaps {
		input.ProductMaps = append(input.ProductMaps, plandomain.ProductMapInput{
			Kind:            plandomain.ProductMapKind(m.Kind),
			StripeProductID: m.StripeProductID,
			StripePriceID:   m.StripePriceID,
		})
	}

	created, err := s.plans.CreatePlan(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    created.ID,
		"appId": created.AppID,
		"code":  created.Code,
		"name":  created.Name,
	})
}

type createBundleRequest struct {
	Name string `json:"name"`
	Apps []struct {
		AppID               string          `json:"appId"`
		DefaultFeatureFlags map[string]bool `json:"defaultFeatureFlags"`
	} `json:"apps"`
	MeterPolicies []struct {
		AppID          string `json:"appId"`
		MeterKey       string `json:"meterKey"`
		LimitType      string `json:"limitType"`
		IncludedAmount *int64 `json:"includedAmount"`
		Enforcement    string `json:"enforcement"`
		OverageBilling string `json:"overageBilling"`
	} `json:"meterPolicies"`
}

// CreateBundle provisions a bundle with apps and default meter policies.
func (s *Server) CreateBundle(c *gin.Context) {
	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	input := contractdomain.CreateBundleInput{Name: strings.TrimSpace(req.Name)}
	for _, a := range req.Apps {
		input.Apps = append(input.Apps, contractdomain.BundleAppInput{
			AppID:               a.AppID,
			DefaultFeatureFlags: a.DefaultFeatureFlags,
		})
	}
	for _, p := range req.MeterPolicies {
		input.MeterPolicies = append(input.MeterPolicies, contractdomain.MeterPolicyInput{
			AppID:          p.AppID,
			MeterKey:       p.MeterKey,
			LimitType:      contractdomain.LimitType(p.LimitType),
			IncludedAmount: p.IncludedAmount,
			Enforcement:    contractdomain.Enforcement(p.Enforcement),
			OverageBilling: contractdomain.OverageBilling(p.OverageBilling),
		})
	}

	bundle, err := s.contracts.CreateBundle(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bundleView(bundle))
}

// GetBundle returns a bundle with its apps and meter policies.
func (s *Server) GetBundle(c *gin.Context) {
	bundle, err := s.contracts.GetBundle(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, bundleView(bundle))
}

type createContractRequest struct {
	BillToID        string     `json:"billToId"`
	BundleID        string     `json:"bundleId"`
	Status          string     `json:"status"`
	Currency        string     `json:"currency"`
	BillingPeriod   string     `json:"billingPeriod"`
	TermsDays       int        `json:"termsDays"`
	PricingMode     string     `json:"pricingMode"`
	BaseAmountMinor int64      `json:"baseAmountMinor"`
	MinCommitMinor  int64      `json:"minCommitMinor"`
	StartsAt        time.Time  `json:"startsAt"`
	EndsAt          *time.Time `json:"endsAt"`
}

// CreateContract provisions a contract. The partial unique index on
// (bill_to_id) WHERE status='ACTIVE' surfaces as a 409.
func (s *Server) CreateContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	contract, err := s.contracts.CreateContract(c.Request.Context(), contractdomain.CreateContractInput{
		BillToID:        req.BillToID,
		BundleID:        req.BundleID,
		Status:          contractdomain.ContractStatus(req.Status),
		Currency:        req.Currency,
		BillingPeriod:   contractdomain.BillingPeriod(req.BillingPeriod),
		TermsDays:       req.TermsDays,
		PricingMode:     contractdomain.PricingMode(req.PricingMode),
		BaseAmountMinor: req.BaseAmountMinor,
		MinCommitMinor:  req.MinCommitMinor,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contractView(contract))
}

// GetContract returns one contract.
func (s *Server) GetContract(c *gin.Context) {
	contract, err := s.contracts.GetContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contractView(contract))
}

type contractStatusRequest struct {
	Status string `json:"status"`
}

// UpdateContractStatus transitions a contract and refreshes the team's
// entitlements.
func (s *Server) UpdateContractStatus(c *gin.Context) {
	var req contractStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	contract, err := s.contracts.UpdateContractStatus(c.Request.Context(), c.Param("id"), contractdomain.ContractStatus(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contractView(contract))
}

type overrideRequest struct {
	AppID          string          `json:"appId"`
	MeterKey       string          `json:"meterKey"`
	LimitType      *string         `json:"limitType"`
	IncludedAmount *int64          `json:"includedAmount"`
	Enforcement    *string         `json:"enforcement"`
	OverageBilling *string         `json:"overageBilling"`
	FeatureFlags   map[string]bool `json:"featureFlags"`
}

// SetContractOverride upserts the contract-level override for one
// meter key.
func (s *Server) SetContractOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	input := contractdomain.OverrideInput{
		ContractID:     c.Param("id"),
		AppID:          req.AppID,
		MeterKey:       req.MeterKey,
		IncludedAmount: req.IncludedAmount,
		FeatureFlags:   req.FeatureFlags,
	}
	if req.LimitType != nil {
		limitType := contractdomain.LimitType(*req.LimitType)
		input.LimitType = &limitType
	}
	if req.Enforcement != nil {
		enforcement := contractdomain.Enforcement(*req.Enforcement)
		input.Enforcement = &enforcement
	}
	if req.OverageBilling != nil {
		overage := contractdomain.OverageBilling(*req.OverageBilling)
		input.OverageBilling = &overage
	}

	override, err := s.contracts.SetOverride(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             override.ID,
		"contractId":     override.ContractID,
		"appId":          override.AppID,
		"meterKey":       override.MeterKey,
		"limitType":      override.LimitType,
		"includedAmount": override.IncludedAmount,
		"enforcement":    override.Enforcement,
		"overageBilling": override.OverageBilling,
	})
}

type generateInvoiceRequest struct {
	TeamID      string    `json:"teamId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// GenerateInvoice closes one contract period on demand, idempotently
// per (team, period).
func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	inv, err := s.invoices.Generate(c.Request.Context(), invoicedomain.GenerateInput{
		TeamID:      req.TeamID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// GetInvoiceByID returns the invoice with its line items.
func (s *Server) GetInvoiceByID(c *gin.Context) {
	inv, err := s.invoices.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

// MarkInvoicePaid records an out-of-band payment against an issued
// invoice.
func (s *Server) MarkInvoicePaid(c *gin.Context) {
	inv, err := s.invoices.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func bundleView(b *contractdomain.Bundle) gin.H {
	apps := make([]gin.H, 0, len(b.Apps))
	for _, a := range b.Apps {
		apps = append(apps, gin.H{
			"appId":               a.AppID,
			"defaultFeatureFlags": a.DefaultFeatureFlags.Data(),
		})
	}
	policies := make([]gin.H, 0, len(b.MeterPolicies))
	for _, p := range b.MeterPolicies {
		policies = append(policies, gin.H{
			"appId":          p.AppID,
			"meterKey":       p.MeterKey,
			"limitType":      p.LimitType,
			"includedAmount": p.IncludedAmount,
			"enforcement":    p.Enforcement,
			"overageBilling": p.OverageBilling,
		})
	}
	return gin.H{
		"id":            b.ID,
		"name":          b.Name,
		"apps":          apps,
		"meterPolicies": policies,
	}
}

func contractView(ct *contractdomain.Contract) gin.H {
	return gin.H{
		"id":              ct.ID,
		"billToId":        ct.BillToID,
		"bundleId":        ct.BundleID,
		"status":          ct.Status,
		"currency":        ct.Currency,
		"billingPeriod":   ct.BillingPeriod,
		"termsDays":       ct.TermsDays,
		"pricingMode":     ct.PricingMode,
		"baseAmountMinor": ct.BaseAmountMinor,
		"minCommitMinor":  ct.MinCommitMinor,
		"startsAt":        ct.StartsAt,
		"endsAt":          ct.EndsAt,
	}
}

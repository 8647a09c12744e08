package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	"github.com/smallbiznis/meterbill/pkg/db/pagination"
)

// ListLedgerEntries returns the team's ledger entries, filtered and
// paginated, together with the current wallet balance.
func (s *Server) ListLedgerEntries(c *gin.Context) {
	ctx := c.Request.Context()
	appID := c.Param("appId")

	team, err := s.teams.GetTeam(ctx, appID, c.Param("teamId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entity, err := s.teams.GetBillingEntity(ctx, team.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter, err := parseLedgerFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, total, err := s.ledger.ListEntries(ctx, appID, entity.ID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledger.GetBalance(ctx, appID, entity.ID, ledgerdomain.AccountTypeWallet)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(entries))
	for i := range entries {
		views = append(views, ledgerEntryView(&entries[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":            views,
		"total":              total,
		"limit":              filter.Limit,
		"offset":             filter.Offset,
		"walletBalanceMinor": balance,
	})
}

func parseLedgerFilter(c *gin.Context) (ledgerdomain.EntryFilter, error) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		return ledgerdomain.EntryFilter{}, ErrInvalidRequest
	}
	page = page.Normalize()
	filter := ledgerdomain.EntryFilter{Limit: page.Limit, Offset: page.Offset}

	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, ErrInvalidRequest
		}
		filter.From = &ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, ErrInvalidRequest
		}
		filter.To = &ts
	}
	if raw := c.Query("type"); raw != "" {
		entryType := ledgerdomain.EntryType(raw)
		filter.Type = &entryType
	}

	return filter, nil
}

func ledgerEntryView(e *ledgerdomain.LedgerEntry) gin.H {
	return gin.H{
		"id":             e.ID,
		"type":           e.Type,
		"amountMinor":    e.AmountMinor,
		"currency":       e.Currency,
		"referenceType":  e.ReferenceType,
		"referenceId":    e.ReferenceID,
		"idempotencyKey": e.IdempotencyKey,
		"metadata":       e.Metadata,
		"timestamp":      e.Timestamp,
	}
}

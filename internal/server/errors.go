package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	authdomain "github.com/smallbiznis/meterbill/internal/auth/domain"
	checkoutdomain "github.com/smallbiznis/meterbill/internal/checkout/domain"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	payment "github.com/smallbiznis/meterbill/internal/providers/payment"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrForbidden      = errors.New("forbidden")
)

// ErrorHandlingMiddleware maps the last attached error to a response
// body of the form {error, message, statusCode, requestId, ...}.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, body := mapError(lastErr.Err)
		body["statusCode"] = status
		body["requestId"] = c.GetString("request_id")
		c.AbortWithStatusJSON(status, body)
	}
}

// AbortWithError records an error for the mapping middleware and stops
// the handler chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, gin.H) {
	var batchErr *usagedomain.BatchValidationError
	if errors.As(err, &batchErr) {
		return http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid event envelope",
			"issues":  batchErr.Issues,
		}
	}

	var unknownErr *usagedomain.UnknownEventTypeError
	if errors.As(err, &unknownErr) {
		return http.StatusBadRequest, gin.H{
			"error":     "unknown_event_type",
			"message":   "unknown event type",
			"eventType": unknownErr.EventType,
		}
	}

	var payloadErr *usagedomain.PayloadValidationError
	if errors.As(err, &payloadErr) {
		return http.StatusBadRequest, gin.H{
			"error":            "invalid_event_payload",
			"message":          "event payload failed schema validation",
			"eventType":        payloadErr.EventType,
			"validationErrors": payloadErr.ValidationErrors,
		}
	}

	switch {
	case isBadRequestError(err):
		return http.StatusBadRequest, codeBody(err)
	case errors.Is(err, authdomain.ErrTokenInvalid),
		errors.Is(err, authdomain.ErrTokenReplayed):
		return http.StatusUnauthorized, codeBody(err)
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, codeBody(err)
	case isNotFoundError(err):
		return http.StatusNotFound, codeBody(err)
	case errors.Is(err, contractdomain.ErrActiveContractExists),
		errors.Is(err, invoicedomain.ErrInvoiceNotIssued):
		return http.StatusConflict, codeBody(err)
	case errors.Is(err, checkoutdomain.ErrExternalCustomerTimeout):
		return http.StatusServiceUnavailable, codeBody(err)
	case errors.Is(err, pricingdomain.ErrNoPriceBook),
		errors.Is(err, pricingdomain.ErrNoMatchingRule),
		errors.Is(err, pricingdomain.ErrInvalidRule):
		return http.StatusInternalServerError, codeBody(err)
	default:
		return http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "internal server error",
		}
	}
}

func codeBody(err error) gin.H {
	code := err.Error()
	return gin.H{
		"error":   code,
		"message": strings.ReplaceAll(code, "_", " "),
	}
}

func isBadRequestError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrEmptyBatch),
		errors.Is(err, usagedomain.ErrBatchTooLarge),
		errors.Is(err, usagedomain.ErrMissingTeamAndUser),
		errors.Is(err, teamdomain.ErrInvalidExternalRef),
		errors.Is(err, teamdomain.ErrInvalidTeamName),
		errors.Is(err, teamdomain.ErrUserNotFound),
		errors.Is(err, teamdomain.ErrPersonalTeamNotFound),
		errors.Is(err, teamdomain.ErrBillingEntityNotFound),
		errors.Is(err, teamdomain.ErrMemberUserNotFound),
		errors.Is(err, appdomain.ErrInvalidAppName),
		errors.Is(err, plandomain.ErrInvalidPlanCode),
		errors.Is(err, checkoutdomain.ErrInvalidTopupAmount),
		errors.Is(err, contractdomain.ErrInvalidPricingMode),
		errors.Is(err, contractdomain.ErrInvalidBillingPeriod),
		errors.Is(err, contractdomain.ErrInvalidTermsDays),
		errors.Is(err, contractdomain.ErrInvalidTransition),
		errors.Is(err, invoicedomain.ErrInvalidPeriod),
		errors.Is(err, invoicedomain.ErrPeriodNotElapsed),
		errors.Is(err, ledgerdomain.ErrInvalidApp),
		errors.Is(err, ledgerdomain.ErrInvalidBillTo),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidEntryType),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrMissingIdemKey),
		errors.Is(err, payment.ErrSignatureInvalid):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, appdomain.ErrAppNotFound),
		errors.Is(err, appdomain.ErrSecretNotFound),
		errors.Is(err, teamdomain.ErrTeamNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, contractdomain.ErrContractNotFound),
		errors.Is(err, contractdomain.ErrBundleNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, walletdomain.ErrLineItemNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger's error fields without
// re-deriving status codes in two places.
func classifyErrorForLog(err error) (string, string) {
	status, body := mapError(err)
	code, _ := body["error"].(string)
	switch {
	case status >= 500:
		return "server_error", code
	case status >= 400:
		return "client_error", code
	default:
		return "", code
	}
}

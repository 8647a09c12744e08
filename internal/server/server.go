package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/meterbill/internal/app"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	"github.com/smallbiznis/meterbill/internal/auth"
	authdomain "github.com/smallbiznis/meterbill/internal/auth/domain"
	"github.com/smallbiznis/meterbill/internal/checkout"
	checkoutdomain "github.com/smallbiznis/meterbill/internal/checkout/domain"
	"github.com/smallbiznis/meterbill/internal/config"
	"github.com/smallbiznis/meterbill/internal/contract"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	"github.com/smallbiznis/meterbill/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/meterbill/internal/entitlement/domain"
	"github.com/smallbiznis/meterbill/internal/invoice"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	"github.com/smallbiznis/meterbill/internal/ledger"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	"github.com/smallbiznis/meterbill/internal/observability"
	obslogger "github.com/smallbiznis/meterbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/meterbill/internal/observability/tracing"
	"github.com/smallbiznis/meterbill/internal/plan"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	"github.com/smallbiznis/meterbill/internal/pricing"
	paymentprovider "github.com/smallbiznis/meterbill/internal/providers/payment"
	"github.com/smallbiznis/meterbill/internal/ratelimit"
	"github.com/smallbiznis/meterbill/internal/schema"
	"github.com/smallbiznis/meterbill/internal/security"
	"github.com/smallbiznis/meterbill/internal/subscription"
	"github.com/smallbiznis/meterbill/internal/team"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/smallbiznis/meterbill/internal/usage"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"github.com/smallbiznis/meterbill/internal/wallet"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
	"github.com/smallbiznis/meterbill/internal/webhook"
	webhookdomain "github.com/smallbiznis/meterbill/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	security.Module,
	schema.Module,
	app.Module,
	team.Module,
	plan.Module,
	subscription.Module,
	contract.Module,
	entitlement.Module,
	usage.Module,
	pricing.Module,
	ledger.Module,
	wallet.Module,
	checkout.Module,
	webhook.Module,
	invoice.Module,
	auth.Module,
	ratelimit.Module,
	paymentprovider.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, _ *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	apps         appdomain.Service
	teams        teamdomain.Service
	plans        plandomain.Service
	contracts    contractdomain.Service
	usage        usagedomain.Service
	entitlements entitlementdomain.Service
	checkouts    checkoutdomain.Service
	wallets      walletdomain.Service
	ledger       ledgerdomain.Service
	invoices     invoicedomain.Service
	webhooks     webhookdomain.Service
	verifier     authdomain.Verifier
	obsMetrics   *obsmetrics.Metrics
	usageLimiter *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	Apps         appdomain.Service
	Teams        teamdomain.Service
	Plans        plandomain.Service
	Contracts    contractdomain.Service
	Usage        usagedomain.Service
	Entitlements entitlementdomain.Service
	Checkouts    checkoutdomain.Service
	Wallets      walletdomain.Service
	Ledger       ledgerdomain.Service
	Invoices     invoicedomain.Service
	Webhooks     webhookdomain.Service
	Verifier     authdomain.Verifier
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
	UsageLimiter *ratelimit.IngestLimiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		apps:         p.Apps,
		teams:        p.Teams,
		plans:        p.Plans,
		contracts:    p.Contracts,
		usage:        p.Usage,
		entitlements: p.Entitlements,
		checkouts:    p.Checkouts,
		wallets:      p.Wallets,
		ledger:       p.Ledger,
		invoices:     p.Invoices,
		webhooks:     p.Webhooks,
		verifier:     p.Verifier,
		obsMetrics:   p.ObsMetrics,
		usageLimiter: p.UsageLimiter,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.POST("/v1/stripe/webhook", s.HandleStripeWebhook)

	admin := s.engine.Group("/v1", auth.AdminKey(s.cfg))
	{
		admin.POST("/admin/apps", s.CreateApp)
		admin.POST("/admin/apps/:appId/secrets", s.MintAppSecret)
		admin.DELETE("/admin/apps/:appId/secrets/:kid", s.RevokeAppSecret)

		admin.POST("/admin/plans", s.CreatePlan)

		admin.POST("/bundles", s.CreateBundle)
		admin.GET("/bundles/:id", s.GetBundle)
		admin.POST("/contracts", s.CreateContract)
		admin.GET("/contracts/:id", s.GetContract)
		admin.POST("/contracts/:id/status", s.UpdateContractStatus)
		admin.PUT("/contracts/:id/overrides", s.SetContractOverride)

		admin.POST("/invoices/generate", s.GenerateInvoice)
		admin.GET("/invoices/:id", s.GetInvoiceByID)
		admin.POST("/invoices/:id/pay", s.MarkInvoicePaid)
	}

	api := s.engine.Group("/v1/apps/:appId", auth.JWT(s.verifier), auth.RequireAppMatch())
	{
		api.POST("/users", s.CreateUser)
		api.POST("/teams", s.CreateTeam)
		api.POST("/teams/:teamId/users", s.AddTeamMember)

		api.POST("/usage/events", s.requireScope("usage:write"), s.UsageIngestRateLimit(), s.IngestUsage)

		api.GET("/teams/:teamId/entitlements", s.requireScope("entitlements:read"), s.GetEntitlements)
		api.GET("/teams/:teamId/ledger", s.requireScope("billing:read"), s.ListLedgerEntries)

		api.POST("/teams/:teamId/checkout/subscription", s.CreateSubscriptionCheckout)
		api.POST("/teams/:teamId/topup/checkout", s.CreateTopupCheckout)
		api.PUT("/teams/:teamId/wallet/config", s.UpsertWalletConfig)
	}
}

func (s *Server) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := auth.ClaimsFromContext(c)
		if claims == nil || !claims.HasScope(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// Healthz reports 200 only when the database answers a ping.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package pricing

import (
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	"github.com/smallbiznis/meterbill/internal/pricing/service"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(
		service.NewService,
		func(s pricingdomain.Service) usagedomain.Pricer { return s },
	),
)

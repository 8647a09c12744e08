package entitlement

import (
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	entitlementdomain "github.com/smallbiznis/meterbill/internal/entitlement/domain"
	"github.com/smallbiznis/meterbill/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(
		service.NewService,
		func(s entitlementdomain.Service) contractdomain.Refresher { return s },
	),
)

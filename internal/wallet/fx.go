package wallet

import (
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
	"github.com/smallbiznis/meterbill/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(
		service.NewService,
		func(s walletdomain.Service) pricingdomain.Debiter { return s },
	),
)

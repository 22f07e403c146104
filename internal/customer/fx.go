package customer

import (
	"github.com/facturio/facturio/internal/customer/repository"
	"github.com/facturio/facturio/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

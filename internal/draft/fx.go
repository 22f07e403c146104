package draft

import (
	"github.com/facturio/facturio/internal/draft/service"
	"go.uber.org/fx"
)

var Module = fx.Module("draft.service",
	fx.Provide(
		service.New,
	),
)

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/facturio/facturio/internal/config"
	"github.com/facturio/facturio/internal/customer"
	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	"github.com/facturio/facturio/internal/draft"
	draftdomain "github.com/facturio/facturio/internal/draft/domain"
	"github.com/facturio/facturio/internal/invoice"
	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	obsmetrics "github.com/facturio/facturio/internal/observability/metrics"
	"github.com/facturio/facturio/internal/sequence"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	fx.Provide(registerGin),
	customer.Module,
	sequence.Module,
	invoice.Module,
	draft.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, metrics *obsmetrics.Metrics, registry *prometheus.Registry) *gin.Engine {
	return NewEngine(log, metrics, registry)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	customerSvc customerdomain.Service
	invoiceSvc  invoicedomain.Service
	draftSvc    draftdomain.Service
	metrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	CustomerSvc customerdomain.Service
	InvoiceSvc  invoicedomain.Service
	DraftSvc    draftdomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		customerSvc: p.CustomerSvc,
		invoiceSvc:  p.InvoiceSvc,
		draftSvc:    p.DraftSvc,
		metrics:     p.Metrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OrgContext())

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers/resolve", s.ResolveCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.PATCH("/customers/:id", s.UpdateCustomer)
	api.DELETE("/customers/:id", s.DeleteCustomer)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.IssueInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PATCH("/invoices/:id", s.ReviseInvoice)
	api.POST("/invoices/:id/status", s.UpdateInvoiceStatus)
	api.GET("/invoices/:id/items", s.ListInvoiceItems)
	api.GET("/invoices/:id/items/:itemId", s.GetInvoiceItem)
	api.GET("/invoices/:id/render", s.RenderInvoice)

	// -------- Drafts --------
	api.GET("/drafts", s.ListDrafts)
	api.POST("/drafts", s.CreateDraft)
	api.GET("/drafts/active", s.GetActiveDraft)
	api.GET("/drafts/:id", s.GetDraftByID)
	api.POST("/drafts/:id/input", s.RecordDraftInput)
	api.POST("/drafts/:id/extraction", s.RecordDraftExtraction)
	api.POST("/drafts/:id/edits", s.RecordDraftEdit)
	api.PATCH("/drafts/:id/data", s.UpdateDraftData)
	api.POST("/drafts/:id/finalize", s.FinalizeDraft)
	api.POST("/drafts/:id/cancel", s.CancelDraft)
}

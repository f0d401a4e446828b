package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/finepay/docs"
	"github.com/fatflowers/finepay/internal/app/api/handlers"
	mw "github.com/fatflowers/finepay/internal/app/api/middleware"
	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/platform/testgateway"
	cfgpkg "github.com/fatflowers/finepay/pkg/config"
	metrics "github.com/fatflowers/finepay/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger and access log are attached per group in registerRoutes.
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log      *zap.SugaredLogger
	Cfg      *cfgpkg.Config
	DB       *gorm.DB
	Payments payment.Manager
	Store    *paymentstore.Store
	Audit    *audit.Service
	Echo     *testgateway.Service
	Metrics  *metrics.HTTP
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log, cfg := d.Log, d.Cfg
	r.Use(d.Metrics.Middleware())

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, d.DB)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Payment flow: browser and gateway callbacks carry an audit session.
	pay := r.Group(payment.RoutePrefix)
	pay.Use(
		mw.RequestLoggerMiddleware(log),
		mw.AccessLogMiddleware(log),
		mw.SessionMiddleware(cfg.Session),
		mw.AuditContextMiddleware(d.Audit, log),
	)
	handlers.RegisterPaymentRoutes(pay, d.Payments, log)

	admin := r.Group("/api/v1/admin")
	admin.Use(
		mw.RequestLoggerMiddleware(log),
		mw.AccessLogMiddleware(log),
		mw.AdminAuthMiddleware(cfg.Admin.JWTSecret, log),
		mw.SessionMiddleware(cfg.Session),
		mw.AuditContextMiddleware(d.Audit, log),
	)
	handlers.RegisterAdminRoutes(admin, d.Payments, d.Store, d.Audit, log)

	dev := r.Group("/")
	dev.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	testgateway.RegisterRoutes(dev, d.Echo)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr, "base_url", cfg.Server.BaseURL)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// runMetricsServer serves scrapes on a separate listener so /metrics stays off the public port.
func runMetricsServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, m *metrics.HTTP) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(metrics.DefaultMetricPath, m.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("metrics started", "addr", cfg.MetricsAddr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorw("metrics server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
	fx.Invoke(runMetricsServer),
)

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/ecopoints/internal/activity"
	"github.com/smallbiznis/ecopoints/internal/config"
	"github.com/smallbiznis/ecopoints/internal/emission"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/observability"
	obscontext "github.com/smallbiznis/ecopoints/internal/observability/context"
	obslogger "github.com/smallbiznis/ecopoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ecopoints/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ecopoints/internal/observability/tracing"
	"github.com/smallbiznis/ecopoints/internal/ratelimit"
	"github.com/smallbiznis/ecopoints/internal/scheduler"
	"github.com/smallbiznis/ecopoints/internal/streak"
	"github.com/smallbiznis/ecopoints/internal/summary"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, debug bool, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http"), obslogger.MiddlewareConfig{
		Debug:           debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config) *gin.Engine {
	return NewEngine(log, obsCfg.Debug(), obsmetrics.HTTP())
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Users      userdomain.Service
	Ledger     ledgerdomain.Service
	Streaks    *streak.Service
	Activities *activity.Service
	Summaries  *summary.Service
	Scheduler  *scheduler.Scheduler
	Queue      *jobqueue.Queue
	Catalog    *emission.Catalog
	Limiter    *ratelimit.ActivityLimiter `optional:"true"`
}

// Server exposes the operator surface over the points subsystem. Routes live
// under /internal and are not a public API.
type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	users      userdomain.Service
	ledger     ledgerdomain.Service
	streaks    *streak.Service
	activities *activity.Service
	summaries  *summary.Service
	scheduler  *scheduler.Scheduler
	queue      *jobqueue.Queue
	catalog    *emission.Catalog
	limiter    *ratelimit.ActivityLimiter
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("http.server"),
		users:      p.Users,
		ledger:     p.Ledger,
		streaks:    p.Streaks,
		activities: p.Activities,
		summaries:  p.Summaries,
		scheduler:  p.Scheduler,
		queue:      p.Queue,
		catalog:    p.Catalog,
		limiter:    p.Limiter,
	}

	s.engine.GET("/health", s.Health)
	s.registerInternalRoutes()
	s.registerFallback()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	internal.POST("/users", s.CreateUser)

	users := internal.Group("/users/:id", userContext)
	{
		users.GET("", s.GetUser)
		users.POST("/login", s.RecordLogin)
		users.GET("/streak", s.GetStreak)
		users.GET("/points", s.GetPoints)
		users.GET("/points/reconcile", s.ReconcilePoints)
		users.POST("/redeem", s.RedeemReward)
		users.POST("/activities", s.LogActivity)
		users.GET("/activities", s.ListActivities)
		users.GET("/summaries", s.ListSummaries)
		users.POST("/summaries", s.TriggerSummary)
	}

	jobs := internal.Group("/jobs")
	{
		jobs.GET("/failed", s.ListFailedJobs)
		jobs.GET("/stats", s.JobStats)
		jobs.GET("/:id", s.GetJob)
		jobs.POST("/:id/retry", s.RetryJob)
	}

	internal.POST("/catalog/reload", s.ReloadCatalog)
}

// userContext tags the request context with the path user id so every log
// line written while serving it carries user_id.
func userContext(c *gin.Context) {
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), id))
	}
	c.Next()
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// Health reports process liveness plus database reachability.
func (s *Server) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err = sqlDB.PingContext(ctx)
		cancel()
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		body = gin.H{"status": "degraded", "database": "unreachable"}
		s.log.Warn("health.database_unreachable", zap.Error(err))
	}
	if s.catalog != nil {
		body["emission_factors"] = s.catalog.Size()
	}
	c.JSON(status, body)
}

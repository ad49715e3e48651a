package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/edupass/internal/config"
	creditdomain "github.com/smallbiznis/edupass/internal/credit/domain"
	groupdomain "github.com/smallbiznis/edupass/internal/group/domain"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/observability"
	obsmiddleware "github.com/smallbiznis/edupass/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/edupass/internal/observability/metrics"
	obstracing "github.com/smallbiznis/edupass/internal/observability/tracing"
	"github.com/smallbiznis/edupass/internal/ratelimit"
	redemptiondomain "github.com/smallbiznis/edupass/internal/redemption/domain"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
	tokendomain "github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
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

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	studentSvc    studentdomain.Service
	groupSvc      groupdomain.Service
	sessionSvc    sessiondomain.Service
	tokenSvc      tokendomain.Service
	redemptionSvc redemptiondomain.Service
	creditSvc     creditdomain.Service

	redeemLimiter *ratelimit.RedeemLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	StudentSvc    studentdomain.Service
	GroupSvc      groupdomain.Service
	SessionSvc    sessiondomain.Service
	TokenSvc      tokendomain.Service
	RedemptionSvc redemptiondomain.Service
	CreditSvc     creditdomain.Service
	RedeemLimiter *ratelimit.RedeemLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		studentSvc:    p.StudentSvc,
		groupSvc:      p.GroupSvc,
		sessionSvc:    p.SessionSvc,
		tokenSvc:      p.TokenSvc,
		redemptionSvc: p.RedemptionSvc,
		creditSvc:     p.CreditSvc,
		redeemLimiter: p.RedeemLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	if p.Cfg.ActorTokenSecret == "" {
		svc.log.Warn("AUTH_JWT_SECRET is empty, every API request will be rejected")
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.ActorRequired())

	sessions := api.Group("/sessions")
	sessions.POST("/start", s.StartSession)
	sessions.GET("/:id", s.GetSession)
	sessions.POST("/:id/cancel", s.CancelSession)
	sessions.POST("/:id/complete", s.CompleteSession)

	api.POST("/tokens/student", s.IssueStudentToken)
	api.POST("/attendance/redeem", s.RedeemRateLimit(), s.RedeemAttendance)

	students := api.Group("/students")
	students.POST("", s.CreateStudent)
	students.GET("", s.ListStudents)
	students.GET("/:id", s.GetStudent)
	students.POST("/:id/deactivate", s.DeactivateStudent)
	students.PUT("/:id/credit", s.RecordPayment)
	students.GET("/:id/attendance", s.ListStudentAttendance)
	students.GET("/:id/ledger", s.ListStudentLedger)
	students.GET("/:id/reconcile", s.ReconcileStudent)

	api.GET("/payments", s.ListPayments)

	groups := api.Group("/groups")
	groups.POST("", s.CreateGroup)
	groups.GET("/:id", s.GetGroup)
	groups.POST("/:id/enroll", s.EnrollGroup)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

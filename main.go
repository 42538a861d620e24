package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"LIBRIS-backend/docs"
	"LIBRIS-backend/internal/attendance"
	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/books"
	"LIBRIS-backend/internal/circulation"
	"LIBRIS-backend/internal/notify"
	"LIBRIS-backend/internal/platform/auth"
	"LIBRIS-backend/internal/platform/cache"
	"LIBRIS-backend/internal/platform/clock"
	"LIBRIS-backend/internal/platform/config"
	"LIBRIS-backend/internal/platform/db"
	"LIBRIS-backend/internal/platform/kafka"
	"LIBRIS-backend/internal/platform/logging"
	"LIBRIS-backend/internal/platform/metrics"
	"LIBRIS-backend/internal/platform/middleware"
	"LIBRIS-backend/internal/platform/tracing"
	"LIBRIS-backend/internal/platform/validation"
	"LIBRIS-backend/internal/reports"
	"LIBRIS-backend/internal/students"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "config file")
	envPath := flag.String("env", config.DefaultEnvPath, ".env file")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*cfgPath, *envPath)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	logger := logging.New(cfg)
	defer logging.Close()
	slog.SetDefault(logger)
	logger.Info("starting", "mode", cfg.Mode, "version", cfg.Version)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "err", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk, err := clock.New(cfg.Library.TimeZone)
	if err != nil {
		return err
	}

	tp, err := tracing.New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	}()

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected to DB", "dbname", cfg.DB.DBName)

	if cfg.DB.Migrate {
		if err := db.Migrate(conn); err != nil {
			return err
		}
	}

	// Redis は任意。未設定なら学生情報は DB 直読み
	rdb, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 監査ログ: DB には必ず書く。Kafka は設定があれば追加
	auditStore := audit.NewStore(conn)
	sinks := []audit.Sink{auditStore}
	kc, err := kafka.New(cfg.Kafka)
	if err != nil {
		return err
	}
	if kc != nil {
		defer kc.Close()
		if err := kafka.EnsureTopic(ctx, kc, cfg.Kafka); err != nil {
			logger.Warn("kafka topic bootstrap failed", "err", err)
		}
		sinks = append(sinks, audit.NewKafkaSink(kc, cfg.Kafka.AuditTopic, logger))
	}
	recorder := audit.NewRecorder(0, logger)
	auditWorker := audit.NewWorker(recorder.Inbox(), logger, sinks...)

	var mailer notify.Mailer
	switch cfg.Mail.Provider {
	case "sendgrid":
		mailer = notify.NewSendgridMailer(cfg.Mail.SendgridKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	default:
		mailer = notify.NewConsoleMailer(os.Stdout, cfg.Mail.FromName, cfg.Mail.FromAddress)
	}
	notifier, err := notify.NewService(mailer, clk.Location())
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(conn, cfg.Auth)
	if err != nil {
		return err
	}
	if created, err := authSvc.EnsureAdmin(ctx, cfg.Auth.BootstrapAdmin, cfg.Auth.BootstrapPassword); err != nil {
		return err
	} else if created {
		logger.Info("bootstrap admin created", "id", cfg.Auth.BootstrapAdmin)
	}

	bookSvc := books.NewService(conn)
	studentSvc := students.NewService(conn, rdb, cfg.Redis, logger)
	circ := circulation.NewService(circulation.Deps{
		Ledger:   circulation.NewStore(conn),
		Students: studentSvc,
		Clock:    clk,
		Auditor:  recorder,
		Notifier: notifier,
		Metrics:  metrics.NewCirculation(prometheus.DefaultRegisterer),
		Logger:   logger,

		TracerProvider: tp,
	})
	reconciler := circulation.NewReconciler(circ, circulation.ReconcilerConfig{
		Interval:  cfg.Reconcile.Interval,
		BatchSize: cfg.Reconcile.BatchSize,
	})
	reportSvc := reports.NewService(conn, clk, logger)
	attendSvc := attendance.NewService(conn, studentSvc, clk, recorder, logger)

	if err := validation.RegisterGin(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestContext(), middleware.AccessLog(logger))
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == config.ModeDev {
		// CORS（開発中のみ必要）
		origins := cfg.Server.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.HeaderRequestID},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		if rdb != nil {
			if err := rdb.Health(c.Request.Context()); err != nil {
				c.String(http.StatusServiceUnavailable, "redis unavailable")
				return
			}
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterRoutes(api, authSvc)

	secured := api.Group("", auth.RequireAuth(authSvc.Secret()))
	books.RegisterRoutes(secured, bookSvc)
	students.RegisterRoutes(secured, studentSvc)
	circulation.RegisterRoutes(secured, circ)
	reports.RegisterRoutes(secured, reportSvc)
	attendance.RegisterRoutes(secured, attendSvc)

	admin := secured.Group("", auth.RequireRole(auth.RoleAdmin))
	auth.RegisterAdminRoutes(admin, authSvc)
	circulation.RegisterAdminRoutes(admin, circ, reconciler)
	attendance.RegisterAdminRoutes(admin, attendSvc)
	audit.RegisterRoutes(admin, auditStore)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
			return
		}
		c.Status(http.StatusNotFound)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	certFile, keyFile, useTLS := cfg.TLSFiles()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return auditWorker.Run(gctx) })

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// 送信中のレシートメールを待つ
		circ.Wait()
		return err
	})

	return g.Wait()
}

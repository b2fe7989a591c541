package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/controller"
	gatewaygrpc "github.com/vibast-solutions/ms-go-payment-gateway/app/grpc"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers, the status probe scheduler and the background jobs.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	c, cleanup := mustCreateContainer()
	defer cleanup()
	cfg := c.cfg

	restored, err := c.scheduler.Rehydrate(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Failed to restore probe schedules")
	} else {
		logrus.WithField("count", restored).Info("Probe schedules restored")
	}

	paymentController := controller.NewPaymentController(c.paymentService)
	grpcGatewayServer := gatewaygrpc.NewServer(c.paymentService)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(paymentController, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, lis := setupGRPCServer(cfg, grpcGatewayServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	jobs := mustStartJobs(cfg, c.paymentService)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	select {
	case <-jobs.Stop().Done():
	case <-shutdownCtx.Done():
		logrus.Warn("Background jobs did not stop in time")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	paymentController *controller.PaymentController,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", paymentController.Health)

	payments := e.Group("/payments", requireRequestID(), internalAuthMiddleware.RequireInternalAccess(appServiceName))
	payments.POST("", paymentController.CreatePayment)
	payments.GET("/:id", paymentController.GetPayment)
	payments.POST("/:id/refund", paymentController.Refund)
	payments.POST("/:id/chargeback", paymentController.Chargeback)

	// Providers cannot authenticate against the internal auth service; their
	// events are verified by signature instead.
	webhooks := e.Group("/webhooks/providers", echomiddleware.RequestID())
	webhooks.POST("/:provider", paymentController.HandleProviderEvent)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	gatewayServer *gatewaygrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			gatewaygrpc.RecoveryInterceptor(),
			gatewaygrpc.RequestIDInterceptor(),
			gatewaygrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	gatewaygrpc.RegisterPaymentGatewayServer(grpcSrv, gatewayServer)

	return grpcSrv, lis
}

// mustStartJobs schedules the reconcile sweep and the exhausted-probe report
// inside the serving process.
func mustStartJobs(cfg *config.Config, paymentService *service.PaymentService) *cron.Cron {
	scheduled := cron.New()

	entries := []struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context) error
	}{
		{"reconcile", cfg.Jobs.ReconcileInterval, paymentService.RunReconcileBatch},
		{"probes_report", cfg.Jobs.ProbeReportInterval, paymentService.ReportExhaustedProbes},
	}

	for _, entry := range entries {
		if entry.interval <= 0 {
			logrus.WithField("job", entry.name).Info("Job disabled")
			continue
		}
		entry := entry
		_, err := scheduled.AddFunc(fmt.Sprintf("@every %s", entry.interval), func() {
			runJob(entry.name, func() error { return entry.fn(context.Background()) })
		})
		if err != nil {
			logrus.WithError(err).WithField("job", entry.name).Fatal("Failed to schedule job")
		}
	}

	scheduled.Start()
	return scheduled
}

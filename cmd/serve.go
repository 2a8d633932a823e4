package cmd

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-collections/app/controller"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

var noWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and job workers",
	Long:  "Start the HTTP (Echo) server for the collections service together with the background job workers.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve HTTP only and leave queued jobs to a separate work process")
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	cfg := app.cfg
	paymentLinkController := controller.NewPaymentLinkController(app.linkService)
	batchController := controller.NewBatchController(app.jobs)
	webhookController := controller.NewWebhookController(app.linkService)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(paymentLinkController, batchController, webhookController, echoInternalAuthMiddleware, cfg.App.ServiceName)

	if !noWorkers {
		app.queue.Start()
	}

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	waitForShutdownSignal()
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	if !noWorkers {
		app.queue.Stop()
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	paymentLinkController *controller.PaymentLinkController,
	batchController *controller.BatchController,
	webhookController *controller.WebhookController,
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

	// Public routes, no request id or internal auth.
	e.GET("/health", paymentLinkController.Health)
	e.POST("/webhooks/stripe", webhookController.HandleStripe)

	api := e.Group("", requireRequestID(), internalAuthMiddleware.RequireInternalAccess(appServiceName))

	api.GET("/dashboard", paymentLinkController.Dashboard)
	api.GET("/progress/:operation", batchController.Progress)

	links := api.Group("/payment-links")
	links.GET("", paymentLinkController.ListPaymentLinks)
	links.POST("/generate", batchController.GeneratePaymentLinks)
	links.POST("/generate/cancel", batchController.CancelGeneratePaymentLinks)
	links.POST("/sms/batch", batchController.BatchSendSms)
	links.POST("/sms/batch/cancel", batchController.CancelBatchSendSms)
	links.GET("/next-sms-batch", paymentLinkController.NextSmsBatch)
	links.POST("/statuses/fetch", batchController.FetchAllStatuses)
	links.GET("/:id", paymentLinkController.GetPaymentLink)
	links.DELETE("/:id", paymentLinkController.DeletePaymentLink)
	links.POST("/:id/sms", paymentLinkController.SendSms)
	links.POST("/:id/status", paymentLinkController.FetchStatus)

	clients := api.Group("/clients")
	clients.GET("/:id/payment-links", paymentLinkController.ListClientPaymentLinks)
	clients.POST("/:id/payment-links", paymentLinkController.CreatePaymentLink)
	clients.POST("/:id/sms", paymentLinkController.SendToPhone)

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

// Package main is the entry point for the storefront API server.
//
// It loads configuration, connects to Postgres, wires the payment, order
// and auth handlers onto the core chassis (middleware, routing, health
// checks) and starts serving.
//
// Inside AWS Lambda it serves API Gateway HTTP API events through
// lambdahttp. Everywhere else it runs a standard HTTP server on the
// configured port.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"storefront/internal/api/handlers"
	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/core"
	"storefront/internal/db"
	"storefront/internal/external"
	"storefront/internal/lambdahttp"
	"storefront/internal/payments"
	"storefront/internal/queue"
	"storefront/internal/types"
)

// metricsFlushInterval is how often buffered CloudWatch datums are sent in
// HTTP mode.
const metricsFlushInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("storefront API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)
	for _, w := range cfg.Warnings() {
		logger.Warn("insecure configuration", "warning", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("applying schema: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{ProbeName: "database", Ping: pool.Ping})
	srv.OnShutdown = append(srv.OnShutdown, func(context.Context) error {
		pool.Close()
		return nil
	})

	publisher, cwMetrics, err := newAWSClients(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return err
	}
	if cwMetrics != nil {
		srv.Metrics = cwMetrics
	}

	stripe := external.NewStripeClient(&http.Client{Timeout: 20 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Payments.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Payments.StripeAPIBase,
		Logger:    logger,
	})

	wire(srv, dependencies{
		Orders:    db.NewOrderRepository(pool),
		Users:     db.NewUserRepository(pool),
		Payments:  stripe,
		Publisher: publisher,
		Verifier:  &external.StripeVerifier{},
		Clock:     types.RealClock{},
	})
	srv.MountRoutes()

	if isLambdaEnvironment() {
		runLambda(srv, cwMetrics, logger)
		return nil
	}
	return runHTTPServer(ctx, srv, cwMetrics, cfg, logger)
}

// orderStore is the order persistence shared by the order endpoints and the
// webhook reconciler.
type orderStore interface {
	handlers.OrderRepo
	payments.OrderStore
}

// dependencies are the external collaborators wire needs. Tests substitute
// in-memory fakes.
type dependencies struct {
	Orders    orderStore
	Users     auth.UserRepo
	Payments  external.PaymentProvider
	Publisher payments.EventPublisher
	Verifier  external.WebhookVerifier
	Clock     types.Clock
}

// wire builds the domain services and handlers and registers their routes
// on srv. The caller still has to call MountRoutes.
func wire(srv *core.Server, d dependencies) {
	cfg := srv.Config
	logger := srv.Logger

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer, d.Clock)
	srv.Authenticator = auth.NewAuthenticator(tokens, d.Users)
	srv.RateLimits = core.NewMemoryRateLimitStore(d.Clock)

	pricing := payments.PricingRules{
		TaxRate:          cfg.Payments.TaxRate,
		DefaultShipping:  cfg.Payments.DefaultShippingPrice,
		FreeShippingOver: cfg.Payments.FreeShippingOver,
	}

	reconciler := payments.NewReconciler(d.Orders, d.Publisher, payments.ReconcilerConfig{
		Pricing:           pricing,
		PlaceholderUserID: cfg.Payments.PlaceholderUserID,
		Clock:             d.Clock,
		Logger:            logger,
	})
	webhookHandler := handlers.NewStripeWebhookHandler(
		d.Verifier,
		reconciler,
		cfg.Payments.StripeWebhookSecret,
		srv.Metrics,
		logger,
	)
	srv.WebhookRouteRegistrars = append(srv.WebhookRouteRegistrars, webhookHandler.RegisterRoutes)

	authService := auth.NewService(auth.ServiceConfig{
		Users:  d.Users,
		Tokens: tokens,
		Clock:  d.Clock,
		Logger: logger,
	})
	authHandler := handlers.NewAuthHandler(authService, logger, srv.Validator)
	paymentHandler := handlers.NewPaymentHandler(d.Payments, cfg.Payments.DefaultCurrency, srv.Validator, logger)
	orderHandler := handlers.NewOrderHandler(handlers.OrderHandlerConfig{
		Orders:    d.Orders,
		Publisher: d.Publisher,
		Pricing:   pricing,
		Clock:     d.Clock,
		Validator: srv.Validator,
		Logger:    logger,
	})

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Route("/auth", authHandler.RegisterRoutes)
		r.Route("/payments", paymentHandler.RegisterRoutes)
		r.Route("/orders", orderHandler.RegisterRoutes)
	})
}

// newAWSClients builds the SQS order event publisher and the CloudWatch
// metrics collector. Neither needs AWS credentials when disabled: the
// publisher falls back to queue.NoopPublisher and the collector is nil.
func newAWSClients(ctx context.Context, cfg *config.Config, logger *slog.Logger) (payments.EventPublisher, *core.CloudWatchMetrics, error) {
	var publisher payments.EventPublisher = queue.NoopPublisher{}
	if cfg.AWS.OrderEventsQueueURL == "" && !cfg.Observability.EnableMetrics {
		logger.Info("order events and metrics disabled")
		return publisher, nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AWS.OrderEventsQueueURL != "" {
		publisher = queue.NewOrderEventPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS, logger)
		logger.Info("publishing order events", "queue_url", cfg.AWS.OrderEventsQueueURL)
	}

	var cwMetrics *core.CloudWatchMetrics
	if cfg.Observability.EnableMetrics {
		cwMetrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
		logger.Info("publishing metrics", "namespace", cfg.Observability.MetricNamespace)
	}
	return publisher, cwMetrics, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda serves API Gateway events until the runtime shuts the process
// down. Metrics are flushed after every invocation because the execution
// environment may be frozen between them.
func runLambda(srv *core.Server, cwMetrics *core.CloudWatchMetrics, logger *slog.Logger) {
	adapter := lambdahttp.New(srv.Handler(), logger)
	logger.Info("serving API Gateway events")

	lambda.Start(func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := adapter.Handle(ctx, event)
		if cwMetrics != nil {
			cwMetrics.Flush(ctx)
		}
		return resp, err
	})
}

// runHTTPServer starts the server in standard HTTP mode and blocks until ctx
// is cancelled or the listener fails, then shuts down gracefully.
func runHTTPServer(ctx context.Context, srv *core.Server, cwMetrics *core.CloudWatchMetrics, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cwMetrics != nil {
		g.Go(func() error {
			return cwMetrics.Run(gctx, metricsFlushInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/database"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/jobs"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/repositories/postgres"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	serviceName             = "storefront-api"
	couponPreviewLimit      = 10
	couponPreviewWindow     = time.Minute
	notificationMaxAttempts = 3
	notificationBackoff     = 2 * time.Second
	slowQueryThreshold      = 500 * time.Millisecond
	idempotencyCollection   = "idempotencyKeys"
	idempotencyRedisPrefix  = "storefront:idem:"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	dbProvider, err := database.Open(ctx, cfg.Database,
		database.WithLogWriter(observability.NewPrintfAdapter(logger.Named("gorm")), slowQueryThreshold),
	)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(dbProvider); err != nil {
			logger.Fatal("failed to apply database migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
	}
	registry, err := postgres.NewRegistry(dbProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()

	healthChecks := []repositories.DependencyCheck{
		{Name: "database", Check: dbProvider.Ping},
	}

	idempotencyStore, storeChecks, closeStore, err := newIdempotencyStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err), zap.String("backend", cfg.Idempotency.Backend))
	}
	defer closeStore()
	healthChecks = append(healthChecks, storeChecks...)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitor := idempotency.NewJanitor(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize,
		observability.EventLogger(logger.Named("idempotency")))
	go janitor.Run(janitorCtx)

	sender, closeSender, err := newConfirmationSender(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise notification sender", zap.Error(err), zap.String("transport", cfg.Notifications.Transport))
	}
	defer closeSender()

	notifications, err := services.NewNotificationWorkerPool(services.NotificationDispatcherConfig{
		Sender:      sender,
		Workers:     cfg.Notifications.Workers,
		QueueSize:   cfg.Notifications.QueueSize,
		SendTimeout: cfg.Notifications.SendTimeout,
		MaxAttempts: notificationMaxAttempts,
		Backoff:     notificationBackoff,
		Logger:      observability.EventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification workers", zap.Error(err))
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)
	owners := auth.NewOwnerResolver(cfg.Security.GuestHeader)
	authorizer := auth.NewRoleAuthorizer().
		Grant(services.CapabilityReadAllOrders, auth.RoleAdmin, auth.RoleStaff).
		Grant(services.CapabilityUpdateOrderStatus, auth.RoleAdmin, auth.RoleStaff)

	paymentManager, err := newPaymentManager(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	shippingRates := domain.ShippingRates{
		NearZone:        cfg.Shipping.NearZone,
		FarZone:         cfg.Shipping.FarZone,
		SurchargePerKg:  cfg.Shipping.SurchargePerKg,
		BaseWeightGrams: cfg.Shipping.BaseWeightGrams,
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:    registry.Carts(),
		Products: registry.Products(),
		Currency: cfg.Checkout.Currency,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: registry.Coupons(),
		Carts:   registry.Carts(),
		Clock:   time.Now,
		Logger:  observability.EventLogger(logger.Named("coupon")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:         registry.Carts(),
		Products:      registry.Products(),
		Orders:        registry.Orders(),
		Coupons:       registry.Coupons(),
		Counters:      registry.Counters(),
		UnitOfWork:    registry,
		CouponService: couponService,
		Payments:      paymentManager,
		Notifications: notifications,
		ShippingRates: shippingRates,
		Currency:      cfg.Checkout.Currency,
		SuccessURL:    cfg.Checkout.SuccessURL,
		CancelURL:     cfg.Checkout.CancelURL,
		Clock:         time.Now,
		Logger:        observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		UnitOfWork: registry,
		Authorizer: authorizer,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	orderQueries, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:     registry.Orders(),
		Authorizer: authorizer,
	})
	if err != nil {
		logger.Fatal("failed to initialise order query service", zap.Error(err))
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		UnitOfWork: registry,
		Payments:   paymentManager,
		Meter:      otel.Meter(serviceName),
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("reconciler")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment reconciler", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(healthChecks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthReporter(healthRepo),
	)
	cartHandlers := handlers.NewCartHandlers(authenticator, owners, cartService, couponService,
		handlers.WithCouponPreviewLimit(couponPreviewLimit, couponPreviewWindow, time.Now))
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, owners, checkoutService, idempotencyMiddleware,
		handlers.WithIdempotencyKeyHeader(cfg.Idempotency.Header))
	orderHandlers := handlers.NewOrderHandlers(authenticator, owners, orderQueries, orderService, checkoutService)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orderQueries, orderService)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(paymentManager, reconciler,
		handlers.WithWebhookLogger(observability.EventLogger(logger.Named("webhooks"))))

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      observability.Instrument(router, serviceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := notifications.Close(shutdownCtx); err != nil {
		logger.Warn("notification workers did not drain", zap.Error(err))
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, []repositories.DependencyCheck, func(), error) {
	noop := func() {}
	switch cfg.Idempotency.Backend {
	case "firestore":
		client, err := pfirestore.NewClient(ctx, cfg.Firestore, firebaseClientOptions(cfg)...)
		if err != nil {
			return nil, nil, noop, err
		}
		checks := []repositories.DependencyCheck{{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				return pfirestore.Ping(ctx, client, idempotencyCollection)
			},
		}}
		store := idempotency.NewFirestoreStore(client, idempotency.WithCollection(idempotencyCollection))
		return store, checks, func() { _ = client.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		checks := []repositories.DependencyCheck{{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		}}
		store := idempotency.NewRedisStore(client, idempotency.WithKeyPrefix(idempotencyRedisPrefix))
		return store, checks, func() { _ = client.Close() }, nil
	default:
		return idempotency.NewMemoryStore(), nil, noop, nil
	}
}

func newConfirmationSender(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.NotificationSender, func(), error) {
	noop := func() {}
	switch cfg.Notifications.Transport {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Notifications.PubSubProject, firebaseClientOptions(cfg)...)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.PubSubTopic)
		sender, err := jobs.NewPubSubConfirmationSender(topic)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return sender, func() {
			topic.Stop()
			_ = client.Close()
		}, nil
	case "sqs":
		client, err := jobs.NewSQSClient(ctx, cfg.Notifications.SQSRegion)
		if err != nil {
			return nil, noop, err
		}
		sender, err := jobs.NewSQSConfirmationSender(client, cfg.Notifications.SQSQueueURL)
		if err != nil {
			return nil, noop, err
		}
		return sender, noop, nil
	default:
		return jobs.NewLogConfirmationSender(logger.Named("confirmations")), noop, nil
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	paymentLogger := observability.EventLogger(logger.Named("payments"))
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        paymentLogger,
		Clock:         time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}
	guarded, err := payments.NewGuardedProvider(stripeProvider, payments.BreakerConfig{
		Name:             "stripe",
		Timeout:          cfg.Gateway.Timeout,
		MaxFailures:      cfg.Gateway.BreakerMaxFailures,
		OpenTimeout:      cfg.Gateway.BreakerOpenTimeout,
		HalfOpenRequests: cfg.Gateway.BreakerHalfOpenReqs,
		Logger:           paymentLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe breaker: %w", err)
	}
	return payments.NewManager(map[string]payments.Provider{"stripe": guarded},
		payments.WithDefaultProvider(cfg.PSP.Provider))
}

func firebaseClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a non-empty value.
// Redis credentials are only required when Redis backs idempotency.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Database.DSN",
		"PSP.StripeAPIKey",
		"PSP.StripeWebhookSecret",
	}
	if strings.EqualFold(strings.TrimSpace(env["API_IDEMPOTENCY_BACKEND"]), "redis") &&
		strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	raw := strings.TrimSpace(env["API_SECRET_PROJECT_IDS"])
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

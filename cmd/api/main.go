package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sneakvault/orders/internal/di"
	"github.com/sneakvault/orders/internal/handlers"
	"github.com/sneakvault/orders/internal/platform/auth"
	"github.com/sneakvault/orders/internal/platform/config"
	pfirestore "github.com/sneakvault/orders/internal/platform/firestore"
	"github.com/sneakvault/orders/internal/platform/idempotency"
	"github.com/sneakvault/orders/internal/platform/observability"
	"github.com/sneakvault/orders/internal/platform/requestctx"
	"github.com/sneakvault/orders/internal/platform/secrets"
	"github.com/sneakvault/orders/internal/repositories"
)

const secretHealthReference = "secret://system-healthz?version=latest"

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

	logger := baseLogger.Named("orders")
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

	container, err := di.NewContainer(ctx, cfg, logger, containerOptions(cfg)...)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	runEvery(backgroundCtx, &backgroundWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
		removed, err := container.Idempotency.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			logger.Named("idempotency").Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Named("idempotency").Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})
	runEvery(backgroundCtx, &backgroundWG, cfg.Reconcile.Interval, func(runCtx context.Context) {
		report, err := container.Services.Sweeper.Sweep(requestctx.WithLogger(runCtx, logger.Named("sweeper")))
		if err != nil {
			logger.Named("sweeper").Error("payment sweep failed", zap.Error(err))
			return
		}
		logger.Named("sweeper").Info("payment sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("applied", report.Applied),
			zap.Int("still_pending", report.StillPending),
			zap.Int("errors", report.Errors),
		)
	})

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	orderHandlers := handlers.NewOrderHandlers(
		container.Services.Intake,
		container.Services.Lifecycle,
		handlers.WithCreateMiddlewares(
			handlers.RateLimitByClient(cfg.Server.OrderRateLimit, time.Minute, nil),
			idempotencyMiddleware,
		),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(container.Services.Reconciler)
	internalHandlers := handlers.NewInternalPaymentHandlers(container.Services.Sweeper)
	paymentStatus := handlers.NewPaymentStatusHandlers(handlers.PaymentsInfo{
		Configured:      container.Payments != nil,
		Mode:            cfg.PayDunya.Mode,
		Store:           cfg.Shop.Name,
		DefaultProvider: cfg.Payments.DefaultProvider,
		Providers:       container.Payments.Names(),
	})

	healthHandlers := handlers.NewHealthHandlers(buildHealthOptions(cfg, envValues, container, fetcher, startedAt)...)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentStatus.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(middleware.AllowContentType("application/json", "application/x-www-form-urlencoded")),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}

	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		adminHandlers := handlers.NewAdminOrderHandlers(auth.NewAuthenticator(verifier), container.Services.Lifecycle, cfg.Security.AdminRoles...)
		opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	} else {
		logger.Warn("firebase project not configured; admin routes disabled")
	}

	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, container.Metrics.OIDCVerification); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("sneakvault orders api listening",
			zap.String("store", cfg.Store.Backend),
			zap.Strings("payment_providers", container.Payments.Names()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Tasks.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications abandoned", zap.Error(err))
	}
}

func containerOptions(cfg config.Config) []di.Option {
	providerOpts := []pfirestore.ProviderOption{pfirestore.WithDialTimeout(2 * cfg.Store.OperationTimeout)}
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return []di.Option{di.WithFirestoreOptions(providerOpts...)}
}

// runEvery calls fn on every tick of interval until ctx is cancelled. A non-positive interval
// disables the loop.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func buildHealthOptions(cfg config.Config, env map[string]string, container *di.Container, fetcher *secrets.Fetcher, started time.Time) []handlers.HealthOption {
	opts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(env, cfg, started)),
		handlers.WithHealthCheck("orderStore", container.Ping),
	}
	if fetcher != nil && secretProjectConfigured(env) {
		opts = append(opts, handlers.WithHealthProbe(repositories.DependencyProbe{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		}))
	}
	return opts
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["ORDERS_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["ORDERS_BUILD_COMMIT_SHA"])
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

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.VerificationRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithVerificationRecorder(recorder))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func lookupEnv(env map[string]string, key string) string {
	if env == nil {
		return ""
	}
	return strings.TrimSpace(env[key])
}

func secretProjectConfigured(env map[string]string) bool {
	return lookupEnv(env, "ORDERS_SECRET_DEFAULT_PROJECT_ID") != "" ||
		lookupEnv(env, "ORDERS_FIRESTORE_PROJECT_ID") != "" ||
		len(secretProjectMapFromEnv(env)) > 0
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	envLabel := strings.ToLower(lookupEnv(env, "ORDERS_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookupEnv(env, "ORDERS_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookupEnv(env, "ORDERS_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookupEnv(env, "ORDERS_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := secretProjectMapFromEnv(env); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected providers cannot run without. Optional
// channels only require their credential once their endpoint is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	switch strings.ToLower(lookupEnv(env, "ORDERS_PAYMENTS_DEFAULT_PROVIDER")) {
	case config.ProviderStripe:
		required = append(required, "Stripe.APIKey", "Stripe.WebhookSecret")
	default:
		required = append(required, "PayDunya.MasterKey", "PayDunya.PrivateKey", "PayDunya.Token")
	}
	if lookupEnv(env, "ORDERS_EMAIL_HOST") != "" && lookupEnv(env, "ORDERS_EMAIL_USERNAME") != "" {
		required = append(required, "Email.Password")
	}
	if lookupEnv(env, "ORDERS_SMS_ENDPOINT") != "" {
		required = append(required, "SMS.APIKey")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	raw := lookupEnv(env, "ORDERS_SECRET_PROJECT_IDS")
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		label, project, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		label = strings.ToLower(strings.TrimSpace(label))
		project = strings.TrimSpace(project)
		if label == "" || project == "" {
			continue
		}
		projects[label] = project
	}
	return projects
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

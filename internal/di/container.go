package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/sneakvault/orders/internal/notifications"
	"github.com/sneakvault/orders/internal/payments"
	"github.com/sneakvault/orders/internal/platform/config"
	pfirestore "github.com/sneakvault/orders/internal/platform/firestore"
	"github.com/sneakvault/orders/internal/platform/idempotency"
	"github.com/sneakvault/orders/internal/platform/jobs"
	"github.com/sneakvault/orders/internal/platform/observability"
	"github.com/sneakvault/orders/internal/platform/storage"
	"github.com/sneakvault/orders/internal/repositories"
	firestoreRepo "github.com/sneakvault/orders/internal/repositories/firestore"
	"github.com/sneakvault/orders/internal/repositories/memory"
	"github.com/sneakvault/orders/internal/services"
)

const meterName = "github.com/sneakvault/orders"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Lifecycle  services.OrderLifecycle
	Intake     services.OrderIntake
	Reconciler services.WebhookReconciler
	Sweeper    services.PaymentSweeper
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Payments     *payments.Registry
	Idempotency  idempotency.Store
	Metrics      *observability.Metrics
	Tasks        *services.BestEffort

	// Firestore is nil when the memory backend is selected.
	Firestore *pfirestore.Provider

	closers []func(context.Context) error
}

// Option customises container construction, mainly for tests.
type Option func(*options)

type options struct {
	registry  repositories.Registry
	idem      idempotency.Store
	images    notifications.ImageResolver
	clock     func() time.Time
	providers []pfirestore.ProviderOption
}

// WithRegistry supplies a repository registry instead of building one from configuration.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithIdempotencyStore supplies the idempotency store instead of building one from configuration.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) { o.idem = store }
}

// WithImageResolver supplies the resolver used for product images in emails.
func WithImageResolver(images notifications.ImageResolver) Option {
	return func(o *options) { o.images = images }
}

// WithClock overrides the clock shared by services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithFirestoreOptions forwards options to the Firestore provider.
func WithFirestoreOptions(opts ...pfirestore.ProviderOption) Option {
	return func(o *options) { o.providers = append(o.providers, opts...) }
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{
		Config:  cfg,
		Metrics: observability.NewMetrics(otel.Meter(meterName), logger),
		Tasks:   services.NewBestEffort(cfg.Notify.Timeout, logger),
	}
	svcLogger := observability.ServiceLogger(logger)

	if err := c.buildStores(ctx, cfg, o); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	events, err := c.buildEventPublisher(ctx, cfg)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	gateways, err := buildGateways(cfg, svcLogger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Payments = gateways

	images := o.images
	if images == nil {
		if images, err = c.buildImageResolver(ctx, cfg); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}

	notifier, err := buildNotifier(cfg, images, c.Metrics, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	// A nil *payments.Registry must not reach services as a non-nil interface.
	var resolver services.GatewayResolver
	if gateways != nil {
		resolver = gateways
	}

	lifecycle, err := services.NewOrderLifecycle(services.OrderLifecycleDeps{
		Orders:           c.Repositories.Orders(),
		Clock:            o.clock,
		Events:           events,
		OperationTimeout: cfg.Store.OperationTimeout,
		Logger:           svcLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build order lifecycle: %w", err)
	}

	reconciler, err := services.NewWebhookReconciler(services.WebhookReconcilerDeps{
		Lifecycle:   lifecycle,
		Gateways:    resolver,
		Notifier:    notifier,
		Tasks:       c.Tasks,
		Metrics:     c.Metrics,
		AuditLogger: logger,
		Logger:      svcLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build webhook reconciler: %w", err)
	}

	intake, err := services.NewOrderIntake(services.OrderIntakeDeps{
		Lifecycle: lifecycle,
		Gateways:  resolver,
		Notifier:  notifier,
		Tasks:     c.Tasks,
		Shop: services.ShopIdentity{
			Name:          cfg.Shop.Name,
			FrontendURL:   cfg.Shop.FrontendURL,
			PublicBaseURL: cfg.Shop.PublicBaseURL,
			Currency:      cfg.Shop.Currency,
		},
		Sanitizer: bluemonday.StrictPolicy(),
		Clock:     o.clock,
		Logger:    svcLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build order intake: %w", err)
	}

	sweeper, err := services.NewPaymentSweeper(services.PaymentSweeperDeps{
		Orders:     c.Repositories.Orders(),
		Reconciler: reconciler,
		Gateways:   resolver,
		StaleAfter: cfg.Reconcile.StaleAfter,
		BatchSize:  cfg.Reconcile.BatchSize,
		MaxPages:   cfg.Reconcile.MaxPages,
		Clock:      o.clock,
		Logger:     svcLogger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build payment sweeper: %w", err)
	}

	c.Services = Services{
		Lifecycle:  lifecycle,
		Intake:     intake,
		Reconciler: reconciler,
		Sweeper:    sweeper,
	}
	return c, nil
}

func (c *Container) buildStores(ctx context.Context, cfg config.Config, o options) error {
	if o.registry != nil {
		c.Repositories = o.registry
		c.Idempotency = o.idem
		if c.Idempotency == nil {
			c.Idempotency = idempotency.NewMemoryStore()
		}
		return nil
	}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		c.Repositories = memory.NewRegistry(memory.WithClock(o.clock))
		c.Idempotency = idempotency.NewMemoryStore()
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, o.providers...)
		if _, err := provider.Client(ctx); err != nil {
			return fmt.Errorf("init firestore client: %w", err)
		}
		c.Firestore = provider
		reg, err := firestoreRepo.NewRegistry(provider, cfg.Firestore.Collection, o.clock)
		if err != nil {
			return fmt.Errorf("build firestore repositories: %w", err)
		}
		c.Repositories = reg
		c.closers = append(c.closers, reg.Close)

		c.Idempotency = o.idem
		if c.Idempotency == nil {
			store, err := idempotency.NewFirestoreStore(provider)
			if err != nil {
				return fmt.Errorf("build idempotency store: %w", err)
			}
			c.Idempotency = store
		}
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	return nil
}

func (c *Container) buildEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, error) {
	topicID := strings.TrimSpace(cfg.Events.Topic)
	if topicID == "" {
		return nil, nil
	}
	client, err := jobs.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(topicID)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	return publisher, nil
}

func buildGateways(cfg config.Config, logger payments.Logger) (*payments.Registry, error) {
	var gateways []payments.Gateway
	if cfg.PayDunya.Configured() {
		gateway, err := payments.NewPayDunyaGateway(payments.PayDunyaConfig{
			MasterKey:  cfg.PayDunya.MasterKey,
			PrivateKey: cfg.PayDunya.PrivateKey,
			Token:      cfg.PayDunya.Token,
			Mode:       cfg.PayDunya.Mode,
			Store: payments.PayDunyaStore{
				Name:          cfg.Shop.Name,
				Tagline:       cfg.Shop.Tagline,
				Phone:         cfg.Shop.Phone,
				PostalAddress: cfg.Shop.PostalAddress,
				WebsiteURL:    cfg.Shop.FrontendURL,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build paydunya gateway: %w", err)
		}
		gateways = append(gateways, gateway)
	}
	if cfg.Stripe.Configured() {
		gateway, err := payments.NewStripeGateway(payments.StripeConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
		gateways = append(gateways, gateway)
	}
	if len(gateways) == 0 {
		return nil, nil
	}
	registry, err := payments.NewRegistry(gateways, payments.WithDefaultProvider(cfg.Payments.DefaultProvider))
	if err != nil {
		return nil, fmt.Errorf("build payment registry: %w", err)
	}
	return registry, nil
}

// buildImageResolver prefers an explicit service account key and falls back to the runtime
// credentials when running against Google Cloud. Local memory-backed runs get no resolver, so
// emails are sent without product images.
func (c *Container) buildImageResolver(ctx context.Context, cfg config.Config) (notifications.ImageResolver, error) {
	clientOpts := []storage.ClientOption{
		storage.WithTTL(cfg.Storage.SignedURLTTL),
		storage.WithBaseURL(cfg.Shop.PublicBaseURL),
		storage.WithAssetsBucket(cfg.Storage.AssetsBucket),
	}

	if path := strings.TrimSpace(cfg.Storage.SignerCredentialsFile); path != "" {
		signer, err := storage.NewServiceAccountSignerFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load storage signer: %w", err)
		}
		client, err := storage.NewClient(signer, clientOpts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	if cfg.Store.Backend != config.StoreBackendFirestore {
		return nil, nil
	}
	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return gcsClient.Close() })
	client, err := storage.NewClientFromStorage(gcsClient, clientOpts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildNotifier(cfg config.Config, images notifications.ImageResolver, metrics *observability.Metrics, logger *zap.Logger) (*notifications.Dispatcher, error) {
	deps := notifications.DispatcherDeps{
		Images: images,
		Shop: notifications.Shop{
			Name:        cfg.Shop.Name,
			Phone:       cfg.Shop.Phone,
			Email:       cfg.Shop.Email,
			FrontendURL: cfg.Shop.FrontendURL,
		},
		Metrics: metrics,
		Logger:  logger,
	}
	if cfg.Email.Enabled() {
		sender, err := notifications.NewSMTPSender(notifications.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Shop.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("build email sender: %w", err)
		}
		deps.Email = sender
	} else {
		logger.Info("email notifications disabled")
	}
	if cfg.SMS.Enabled() {
		sender, err := notifications.NewHTTPSMSSender(notifications.HTTPSMSConfig{
			Endpoint:    cfg.SMS.Endpoint,
			APIKey:      cfg.SMS.APIKey,
			Sender:      cfg.SMS.Sender,
			CountryCode: cfg.SMS.CountryCode,
		})
		if err != nil {
			return nil, fmt.Errorf("build sms sender: %w", err)
		}
		deps.SMS = sender
	} else {
		logger.Info("sms notifications disabled")
	}
	return notifications.NewDispatcher(deps), nil
}

// Ping reports whether the order store is reachable.
func (c *Container) Ping(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return errors.New("container not initialised")
	}
	return c.Repositories.Orders().Ping(ctx)
}

// Close releases repository clients and publishers in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

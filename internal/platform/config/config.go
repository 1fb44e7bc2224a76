package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultOrderRateLimit       = 30
	defaultStoreBackend         = StoreBackendFirestore
	defaultStoreTimeout         = 5 * time.Second
	defaultOrdersCollection     = "orders"
	defaultSignedURLTTL         = 72 * time.Hour
	defaultShopName             = "SneakVault"
	defaultShopCurrency         = "XOF"
	defaultFrontendURL          = "http://localhost:3000"
	defaultPublicBaseURL        = "http://localhost:8080"
	defaultPayDunyaMode         = "test"
	defaultEmailPort            = 587
	defaultSMSCountryCode       = "+221"
	defaultNotifyTimeout        = 10 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultReconcileStaleAfter  = 30 * time.Minute
	defaultReconcileBatchSize   = 50
	defaultReconcileMaxPages    = 5
)

// Store backends accepted by ORDERS_STORE_BACKEND.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

// Payment providers accepted by ORDERS_PAYMENTS_DEFAULT_PROVIDER.
const (
	ProviderPayDunya = "paydunya"
	ProviderStripe   = "stripe"
)

var defaultAdminRoles = []string{"staff", "admin"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Firebase    FirebaseConfig
	Storage     StorageConfig
	Shop        ShopConfig
	Payments    PaymentsConfig
	PayDunya    PayDunyaConfig
	Stripe      StripeConfig
	Email       EmailConfig
	SMS         SMSConfig
	Notify      NotifyConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Reconcile   ReconcileConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// OrderRateLimit caps order submissions per client IP per minute; zero disables the limit.
	OrderRateLimit int
}

// StoreConfig selects the order store implementation.
type StoreConfig struct {
	Backend          string
	OperationTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	Collection   string
}

// FirebaseConfig stores the project used to verify staff ID tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// StorageConfig points at the bucket holding product images.
type StorageConfig struct {
	AssetsBucket string
	SignedURLTTL time.Duration
	// SignerCredentialsFile holds a service account key used to sign image URLs. When empty the
	// runtime credentials sign through the IAM API.
	SignerCredentialsFile string
}

// ShopConfig carries storefront identity used in invoices, notifications and redirect URLs.
type ShopConfig struct {
	Name          string
	Tagline       string
	Phone         string
	Email         string
	PostalAddress string
	FrontendURL   string
	PublicBaseURL string
	Currency      string
}

// PaymentsConfig selects the gateway used for online orders.
type PaymentsConfig struct {
	DefaultProvider string
}

// PayDunyaConfig holds PayDunya API credentials.
type PayDunyaConfig struct {
	MasterKey  string
	PrivateKey string
	PublicKey  string
	Token      string
	Mode       string
}

// Configured reports whether the mandatory credentials are present.
func (c PayDunyaConfig) Configured() bool {
	return c.MasterKey != "" && c.PrivateKey != "" && c.Token != ""
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// Configured reports whether the mandatory credentials are present.
func (c StripeConfig) Configured() bool {
	return c.APIKey != "" && c.WebhookSecret != ""
}

// EmailConfig configures the SMTP relay.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether email notifications can be sent.
func (c EmailConfig) Enabled() bool { return c.Host != "" && c.From != "" }

// SMSConfig configures the SMS HTTP API.
type SMSConfig struct {
	Endpoint    string
	APIKey      string
	Sender      string
	CountryCode string
}

// Enabled reports whether SMS notifications can be sent.
func (c SMSConfig) Enabled() bool { return c.Endpoint != "" && c.APIKey != "" }

// NotifyConfig bounds best-effort notification work.
type NotifyConfig struct {
	Timeout time.Duration
}

// EventsConfig configures the Pub/Sub topic receiving order events. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	AdminRoles  []string
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ReconcileConfig tunes the pending-payment sweep. A zero Interval disables the in-process ticker.
type ReconcileConfig struct {
	StaleAfter time.Duration
	BatchSize  int
	MaxPages   int
	Interval   time.Duration
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envReader{lookup: options.lookup(dotEnvValues)}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str("ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("ORDERS_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			OrderRateLimit:  env.integer("ORDERS_SERVER_ORDER_RATE_LIMIT", defaultOrderRateLimit),
		},
		Store: StoreConfig{
			Backend:          strings.ToLower(env.str("ORDERS_STORE_BACKEND", defaultStoreBackend)),
			OperationTimeout: env.duration("ORDERS_STORE_OPERATION_TIMEOUT", defaultStoreTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("ORDERS_FIRESTORE_EMULATOR_HOST", ""),
			Collection:   env.str("ORDERS_FIRESTORE_COLLECTION", defaultOrdersCollection),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("ORDERS_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("ORDERS_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Storage: StorageConfig{
			AssetsBucket:          env.str("ORDERS_STORAGE_ASSETS_BUCKET", ""),
			SignedURLTTL:          env.duration("ORDERS_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			SignerCredentialsFile: env.str("ORDERS_STORAGE_SIGNER_CREDENTIALS_FILE", ""),
		},
		Shop: ShopConfig{
			Name:          env.str("ORDERS_SHOP_NAME", defaultShopName),
			Tagline:       env.str("ORDERS_SHOP_TAGLINE", ""),
			Phone:         env.str("ORDERS_SHOP_PHONE", ""),
			Email:         env.str("ORDERS_SHOP_EMAIL", ""),
			PostalAddress: env.str("ORDERS_SHOP_POSTAL_ADDRESS", ""),
			FrontendURL:   strings.TrimRight(env.str("ORDERS_SHOP_FRONTEND_URL", defaultFrontendURL), "/"),
			PublicBaseURL: strings.TrimRight(env.str("ORDERS_SHOP_PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
			Currency:      strings.ToUpper(env.str("ORDERS_SHOP_CURRENCY", defaultShopCurrency)),
		},
		Payments: PaymentsConfig{
			DefaultProvider: strings.ToLower(env.str("ORDERS_PAYMENTS_DEFAULT_PROVIDER", ProviderPayDunya)),
		},
		PayDunya: PayDunyaConfig{
			MasterKey:  env.str("ORDERS_PAYDUNYA_MASTER_KEY", ""),
			PrivateKey: env.str("ORDERS_PAYDUNYA_PRIVATE_KEY", ""),
			PublicKey:  env.str("ORDERS_PAYDUNYA_PUBLIC_KEY", ""),
			Token:      env.str("ORDERS_PAYDUNYA_TOKEN", ""),
			Mode:       strings.ToLower(env.str("ORDERS_PAYDUNYA_MODE", defaultPayDunyaMode)),
		},
		Stripe: StripeConfig{
			APIKey:        env.str("ORDERS_STRIPE_API_KEY", ""),
			WebhookSecret: env.str("ORDERS_STRIPE_WEBHOOK_SECRET", ""),
		},
		Email: EmailConfig{
			Host:     env.str("ORDERS_EMAIL_HOST", ""),
			Port:     env.integer("ORDERS_EMAIL_PORT", defaultEmailPort),
			Username: env.str("ORDERS_EMAIL_USERNAME", ""),
			Password: env.str("ORDERS_EMAIL_PASSWORD", ""),
			From:     env.str("ORDERS_EMAIL_FROM", ""),
		},
		SMS: SMSConfig{
			Endpoint:    env.str("ORDERS_SMS_ENDPOINT", ""),
			APIKey:      env.str("ORDERS_SMS_API_KEY", ""),
			Sender:      env.str("ORDERS_SMS_SENDER", ""),
			CountryCode: env.str("ORDERS_SMS_COUNTRY_CODE", defaultSMSCountryCode),
		},
		Notify: NotifyConfig{
			Timeout: env.duration("ORDERS_NOTIFY_TIMEOUT", defaultNotifyTimeout),
		},
		Events: EventsConfig{
			ProjectID: env.str("ORDERS_EVENTS_PROJECT_ID", ""),
			Topic:     env.str("ORDERS_EVENTS_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("ORDERS_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("ORDERS_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("ORDERS_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("ORDERS_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("ORDERS_SECURITY_OIDC_ISSUERS"),
			},
			AdminRoles: env.list("ORDERS_SECURITY_ADMIN_ROLES"),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("ORDERS_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("ORDERS_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Reconcile: ReconcileConfig{
			StaleAfter: env.duration("ORDERS_RECONCILE_STALE_AFTER", defaultReconcileStaleAfter),
			BatchSize:  env.integer("ORDERS_RECONCILE_BATCH_SIZE", defaultReconcileBatchSize),
			MaxPages:   env.integer("ORDERS_RECONCILE_MAX_PAGES", defaultReconcileMaxPages),
			Interval:   env.duration("ORDERS_RECONCILE_INTERVAL", 0),
		},
	}

	applyDerivedDefaults(&cfg)

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PayDunya.MasterKey", &cfg.PayDunya.MasterKey},
		{"PayDunya.PrivateKey", &cfg.PayDunya.PrivateKey},
		{"PayDunya.Token", &cfg.PayDunya.Token},
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"Email.Password", &cfg.Email.Password},
		{"SMS.APIKey", &cfg.SMS.APIKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Firebase.ProjectID == "" {
		cfg.Firebase.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}
	if len(cfg.Security.AdminRoles) == 0 {
		cfg.Security.AdminRoles = append([]string(nil), defaultAdminRoles...)
	}
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Server.OrderRateLimit >= 0, "Server.OrderRateLimit")
	require(cfg.Store.OperationTimeout > 0, "Store.OperationTimeout")
	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
		require(strings.TrimSpace(cfg.Firestore.Collection) != "", "Firestore.Collection")
	case StoreBackendMemory:
	default:
		missing = append(missing, "Store.Backend")
	}

	require(len(cfg.Shop.Currency) == 3, "Shop.Currency")
	require(validBaseURL(cfg.Shop.FrontendURL), "Shop.FrontendURL")
	require(validBaseURL(cfg.Shop.PublicBaseURL), "Shop.PublicBaseURL")

	switch cfg.Payments.DefaultProvider {
	case ProviderPayDunya:
		require(cfg.PayDunya.Configured(), "PayDunya.Credentials")
	case ProviderStripe:
		require(cfg.Stripe.Configured(), "Stripe.Credentials")
	default:
		missing = append(missing, "Payments.DefaultProvider")
	}
	require(cfg.PayDunya.Mode == "test" || cfg.PayDunya.Mode == "live", "PayDunya.Mode")

	require(cfg.Email.Port > 0, "Email.Port")
	require(cfg.Notify.Timeout > 0, "Notify.Timeout")
	require(cfg.Storage.SignedURLTTL > 0, "Storage.SignedURLTTL")

	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	require(cfg.Reconcile.StaleAfter > 0, "Reconcile.StaleAfter")
	require(cfg.Reconcile.BatchSize > 0, "Reconcile.BatchSize")
	require(cfg.Reconcile.MaxPages > 0, "Reconcile.MaxPages")
	require(cfg.Reconcile.Interval >= 0, "Reconcile.Interval")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func validBaseURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sneakvault/orders/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routeGroup string

const (
	groupOrders   routeGroup = "orders"
	groupAdmin    routeGroup = "admin"
	groupPayments routeGroup = "payments"
	groupWebhooks routeGroup = "webhooks"
	groupInternal routeGroup = "internal"
)

// publicGroups are mounted under the API prefix, in this order.
var publicGroups = []routeGroup{groupOrders, groupAdmin, groupPayments, groupWebhooks}

type groupConfig struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath     string
	internalPath string
	middlewares  []func(http.Handler) http.Handler
	health       *HealthHandlers
	groups       map[routeGroup]*groupConfig
}

func (c *routerConfig) group(name routeGroup) *groupConfig {
	g, ok := c.groups[name]
	if !ok {
		g = &groupConfig{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix      = "/api/v1"
	defaultInternalPrefix = "/internal"
	defaultTimeout        = 60 * time.Second
	errorNotFoundCode     = "route_not_found"
)

// NewRouter builds the orders API: health probes at the root, storefront, admin, payment
// and webhook groups under /api/v1, and the scheduler group under /internal.
// Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:     defaultAPIPrefix,
		internalPath: defaultInternalPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[routeGroup]*groupConfig),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range publicGroups {
			mountGroup(api, "/"+string(name), name, cfg.group(name))
		}
	})
	mountGroup(r, cfg.internalPath, groupInternal, cfg.group(groupInternal))

	return r
}

func mountGroup(parent chi.Router, path string, name routeGroup, g *groupConfig) {
	parent.Route(path, func(sub chi.Router) {
		use(sub, g.middlewares)
		if g.registrar == nil {
			registerNotImplemented(sub, name)
			return
		}
		g.registrar(sub)
	})
}

func use(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func withGroupRoutes(name routeGroup, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func withGroupMiddlewares(name routeGroup, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts order intake and lookup under /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupOrders, reg) }

// WithAdminRoutes mounts the back-office listing under /api/v1/admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupAdmin, reg) }

// WithPaymentRoutes mounts the payment status endpoint under /api/v1/payments.
func WithPaymentRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupPayments, reg) }

// WithWebhookRoutes mounts provider callbacks under /api/v1/webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupWebhooks, reg) }

// WithWebhookMiddlewares adds middleware in front of the webhook group only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalRoutes mounts scheduler-triggered endpoints under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupInternal, reg) }

// WithInternalMiddlewares adds middleware (OIDC in production) in front of /internal.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func registerNotImplemented(r chi.Router, name routeGroup) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not mounted", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}

package application

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KerubinDev/Quest-Forge/internal/api"
	"github.com/KerubinDev/Quest-Forge/internal/config"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	settings config.Settings
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided settings.
func New(settings config.Settings, logger *zap.Logger) (*App, error) {
	handler := api.NewHandler(settings)
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(settings.Server.EnableRequestLogging),
		api.WithRateLimit(settings.Server.RateLimitRPS, settings.Server.RateLimitBurst),
		api.WithSettingsRoute(settings.Server.ExposeSettings),
	)

	rootHandler, err := BuildRootHandler(settings.APIPrefix, apiRouter)
	if err != nil {
		return nil, err
	}

	return &App{
		settings: settings,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(settings, rootHandler),
	}, nil
}

// BuildRootHandler mounts the API router under prefix and exposes /metrics.
func BuildRootHandler(prefix string, apiHandler http.Handler) (http.Handler, error) {
	prefix = normalizePrefix(prefix)
	if prefix == "/metrics" || strings.HasPrefix(prefix, "/metrics/") {
		return nil, errors.New("api prefix must not shadow /metrics")
	}

	r := chi.NewRouter()
	r.NotFound(api.NotFound)
	r.Handle("/metrics", promhttp.Handler())

	if prefix == "" {
		r.Handle("/*", apiHandler)
		return r, nil
	}
	r.Mount(prefix, stripPrefix(prefix, apiHandler))
	return r, nil
}

// stripPrefix is http.StripPrefix except that the bare prefix maps to "/"
// instead of an empty path, which ServeMux would redirect to the site root.
func stripPrefix(prefix string, h http.Handler) http.Handler {
	strip := http.StripPrefix(prefix, h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == prefix {
			r2 := r.Clone(r.Context())
			r2.URL.Path = prefix + "/"
			r2.URL.RawPath = ""
			r = r2
		}
		strip.ServeHTTP(w, r)
	})
}

// NewServer creates and configures an HTTP server from the provided settings.
func NewServer(settings config.Settings, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              settings.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: settings.Server.ReadHeaderTimeout,
		WriteTimeout:      settings.Server.WriteTimeout,
		IdleTimeout:       settings.Server.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.String("api_prefix", normalizePrefix(a.settings.APIPrefix)),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// normalizePrefix yields "" for the root or "/segment[/segment...]" without a trailing slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

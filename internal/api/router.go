package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/uconnect/uconnect/internal/app"
	iauth "github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/handlers"
	"github.com/uconnect/uconnect/internal/middleware"
	"github.com/uconnect/uconnect/internal/monitoring"
	"github.com/uconnect/uconnect/internal/services"
)

// Dependencies carries the services the HTTP surface is built from.
type Dependencies struct {
	Config       *app.Config
	JWT          *iauth.JWTService
	Accounts     *services.AccountService
	Verification *services.VerificationService
	Posts        *services.PostService
	Audit        *services.AuditService
	// RateStore backs the signup and login limiter. Nil selects an in-process store.
	RateStore  middleware.RateStore
	Monitoring *monitoring.Module
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("router: config must be provided")
	}
	if deps.JWT == nil {
		return nil, errors.New("router: jwt service must be provided")
	}

	authHandler, err := handlers.NewAuthHandler(deps.Accounts, deps.Verification, handlers.AuthConfig{
		PublicURL:     cfg.Server.PublicURL,
		SigninPath:    cfg.Server.SigninPath,
		SecureCookies: cfg.Server.SecureCookies,
		SessionTTL:    cfg.Auth.JWT.SessionTTL,
		Admin: services.AdminSeed{
			Name:     cfg.Admin.Name,
			Username: cfg.Admin.Username,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
			Avatar:   cfg.Admin.Avatar,
		},
	})
	if err != nil {
		return nil, err
	}
	postHandler, err := handlers.NewPostHandler(deps.Posts)
	if err != nil {
		return nil, err
	}
	adminHandler, err := handlers.NewAdminHandler(deps.Accounts, deps.Audit)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	if cfg.Media.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.Media.MaxUploadBytes
	}

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Media.PublicPrefix))
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	registerHealthRoutes(r, cfg, deps.Monitoring)
	registerMetricsRoute(r, cfg, deps.Monitoring)
	registerMediaRoutes(r, cfg)

	requireAuth := middleware.Auth(deps.JWT)
	authLimit := middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window)

	registerAuthRoutes(r, authRouteDeps{
		Handler:     authHandler,
		RequireAuth: requireAuth,
		RateLimit:   authLimit,
	})

	api := r.Group("/api")
	api.Use(requireAuth)
	registerPostRoutes(api, postHandler)
	registerAdminRoutes(api, adminHandler, postHandler)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if !cfg.Monitoring.Prometheus.Enabled || mon == nil {
		return
	}
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(mon.Handler()))
}

// registerMediaRoutes serves locally stored uploads. S3 URLs point at the bucket directly.
func registerMediaRoutes(r *gin.Engine, cfg *app.Config) {
	if cfg.Media.Backend != "" && cfg.Media.Backend != "local" {
		return
	}
	prefix := strings.TrimRight(cfg.Media.PublicPrefix, "/")
	if prefix == "" || strings.TrimSpace(cfg.Media.UploadDir) == "" {
		return
	}
	r.Static(prefix, cfg.Media.UploadDir)
}

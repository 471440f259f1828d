package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/api"
	"github.com/uconnect/uconnect/internal/app"
	"github.com/uconnect/uconnect/internal/app/maintenance"
	iauth "github.com/uconnect/uconnect/internal/auth"
	"github.com/uconnect/uconnect/internal/cache"
	"github.com/uconnect/uconnect/internal/database"
	"github.com/uconnect/uconnect/internal/media"
	"github.com/uconnect/uconnect/internal/middleware"
	"github.com/uconnect/uconnect/internal/monitoring"
	"github.com/uconnect/uconnect/internal/monitoring/checks"
	"github.com/uconnect/uconnect/internal/notify"
	"github.com/uconnect/uconnect/internal/services"
	"github.com/uconnect/uconnect/internal/tasks"
	"github.com/uconnect/uconnect/pkg/logger"
	"github.com/uconnect/uconnect/pkg/mail"
)

const (
	taskTimeout     = 30 * time.Second
	taskConcurrency = 8
	checkTimeout    = 3 * time.Second
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Media      media.Store
	Dispatcher *tasks.Dispatcher
	Accounts   *services.AccountService
	Cleaner    *maintenance.Cleaner
	Monitoring *monitoring.Module
	Router     *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()
			stack.Shutdown(cleanupCtx, log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed rate limiting", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Media, err = initialiseMedia(ctx, cfg.Media)
	if err != nil {
		return nil, err
	}

	stack.Dispatcher = tasks.NewDispatcher(
		tasks.WithTimeout(taskTimeout),
		tasks.WithConcurrency(taskConcurrency),
		tasks.WithLogger(logger.WithModule("tasks")),
	)

	notifier, err := initialiseNotifier(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	verificationSvc, err := services.NewVerificationService(stack.DB, jwtSvc,
		services.WithVerificationNotifier(notifier),
		services.WithVerificationRunner(stack.Dispatcher),
		services.WithVerificationAudit(auditSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	cascadeSvc, err := services.NewCascadeService(stack.DB, stack.Media, stack.Dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise cascade service: %w", err)
	}

	stack.Accounts, err = services.NewAccountService(stack.DB, jwtSvc, verificationSvc, cascadeSvc,
		services.WithAllowedDomains(cfg.Auth.AllowedDomains),
		services.WithAccountMedia(stack.Media, cfg.Media.MaxUploadBytes),
		services.WithAccountAudit(auditSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	postSvc, err := services.NewPostService(stack.DB, cascadeSvc,
		services.WithPostMedia(stack.Media, cfg.Media.MaxUploadBytes),
		services.WithPostAudit(auditSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise post service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(
			maintenance.WithMedia(stack.Media, cfg.Media.QuarantineRetention),
			maintenance.WithAudit(auditSvc, cfg.Maintenance.AuditRetentionDays),
			maintenance.WithTokens(verificationSvc),
			maintenance.WithCache(dbStore),
			maintenance.WithSchedules(
				cfg.Maintenance.MediaSchedule,
				cfg.Maintenance.AuditSchedule,
				cfg.Maintenance.TokenSchedule,
				cfg.Maintenance.CacheSchedule,
			),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Monitoring = monitoring.NewModule(monitoring.Options{CheckTimeout: 2 * checkTimeout})
	registerHealthChecks(stack)

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:       cfg,
		JWT:          jwtSvc,
		Accounts:     stack.Accounts,
		Verification: verificationSvc,
		Posts:        postSvc,
		Audit:        auditSvc,
		RateStore:    selectRateStore(cfg.RateLimit.Store, stack.Redis, dbStore, log),
		Monitoring:   stack.Monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func registerHealthChecks(stack *runtimeStack) {
	readiness := stack.Monitoring.Readiness()
	readiness.Register(checks.Database(stack.DB, checkTimeout))
	readiness.Register(checks.Media(stack.Media, checkTimeout))
	readiness.Register(checks.Dispatcher(stack.Dispatcher))
	if stack.Redis != nil {
		readiness.Register(checks.Redis(stack.Redis, checkTimeout))
	}
	if stack.Cleaner != nil {
		readiness.Register(checks.Maintenance(stack.Cleaner, 0))
	}
}

// selectRateStore honours ratelimit.store, degrading to the SQL cache when
// redis was requested but is unavailable.
func selectRateStore(kind string, client *redis.Client, dbStore *cache.DatabaseStore, log *zap.Logger) middleware.RateStore {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "redis":
		if client != nil {
			return middleware.NewRedisRateStore(cache.NewRedisStore(client))
		}
		log.Warn("ratelimit.store is redis but redis is disabled; using database store")
		return middleware.NewDatabaseRateStore(dbStore)
	case "database", "sql":
		return middleware.NewDatabaseRateStore(dbStore)
	default:
		return middleware.NewMemoryRateStore()
	}
}

func initialiseMedia(ctx context.Context, cfg app.MediaConfig) (media.Store, error) {
	switch cfg.Backend {
	case "s3":
		store, err := media.NewS3Store(ctx, cfg.S3StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise s3 media store: %w", err)
		}
		return store, nil
	default:
		store, err := media.NewLocalStore(cfg.LocalStoreConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise local media store: %w", err)
		}
		return store, nil
	}
}

func initialiseNotifier(cfg *app.Config) (notify.Notifier, error) {
	switch cfg.Email.Driver {
	case "smtp":
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		n, err := notify.NewMailNotifier(mailer, cfg.Email.AppName, cfg.Auth.JWT.VerificationTTL)
		if err != nil {
			return nil, fmt.Errorf("initialise mail notifier: %w", err)
		}
		return n, nil
	case "amqp":
		n, err := notify.NewAMQPNotifier(notify.AMQPConfig{
			URL:        cfg.Email.AMQP.URL,
			Exchange:   cfg.Email.AMQP.Exchange,
			RoutingKey: cfg.Email.AMQP.RoutingKey,
			AppName:    cfg.Email.AppName,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise amqp notifier: %w", err)
		}
		return n, nil
	default:
		return notify.NewLogNotifier(logger.WithModule("notify")), nil
	}
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Shutdown(ctx); err != nil {
			log.Warn("background tasks did not drain", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql":
		auth = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = strings.TrimSpace(auth.Password)
	dbCfg.Options = parseOptions(auth.Options)
	return dbCfg
}

// parseOptions reads driver options written as a query string ("sslmode=disable&TimeZone=UTC").
func parseOptions(raw string) map[string]string {
	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil || len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[len(vals)-1]
		}
	}
	return out
}

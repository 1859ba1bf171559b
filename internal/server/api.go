// Package server wires configuration, storage, authentication and the
// optional infrastructure into the HTTP engine and runs it.
package server

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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kyri56xcaesar/pms-kanban/internal/authmw"
	"kyri56xcaesar/pms-kanban/internal/cache"
	"kyri56xcaesar/pms-kanban/internal/events"
	"kyri56xcaesar/pms-kanban/internal/exports"
	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/mproject"
	"kyri56xcaesar/pms-kanban/internal/mtask"
	"kyri56xcaesar/pms-kanban/internal/muser"
	"kyri56xcaesar/pms-kanban/internal/store"
	"kyri56xcaesar/pms-kanban/internal/store/memstore"
	"kyri56xcaesar/pms-kanban/internal/store/mongostore"
	"kyri56xcaesar/pms-kanban/internal/store/pgstore"
	"kyri56xcaesar/pms-kanban/internal/utils"
)

const tokenIssuer = "pms-kanban"

// Deps is everything the engine serves from. Nil optional parts fall back
// to their disabled implementations.
type Deps struct {
	Store    store.Store
	Verifier authmw.Verifier
	Tokens   *authmw.TokenIssuer
	Keycloak *authmw.KeycloakService
	Summary  cache.SummaryCache
	Events   events.Publisher
	Archiver exports.Archiver

	AllowAdminSignup bool
	SecureCookie     bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string

	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Summary == nil {
		d.Summary = cache.Nop{}
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Archiver == nil {
		d.Archiver = exports.Disabled{}
	}
	if d.Verifier == nil && d.Tokens != nil {
		d.Verifier = d.Tokens
	}
}

// NewEngine builds the gin engine with middleware and every route mounted.
func NewEngine(d Deps) *gin.Engine {
	d.defaults()
	utils.RegisterValidators()

	engine := gin.New()
	engine.Use(logger.RequestID(), logger.Requests(), gin.Recovery())
	setCors(engine, d)

	engine.GET("/healthz", handleHealth(d.Store))

	authn := &authmw.Authenticator{
		Verifier:  d.Verifier,
		Users:     d.Store,
		Provision: d.Keycloak != nil,
	}

	public := engine.Group("/")
	authed := engine.Group("/", authn.RequireAuth())

	users := &muser.Handler{
		Store:            d.Store,
		Tokens:           d.Tokens,
		Keycloak:         d.Keycloak,
		AllowAdminSignup: d.AllowAdminSignup,
		SecureCookie:     d.SecureCookie,
	}
	users.Routes(public, authed)

	projects := &mproject.Handler{Store: d.Store, Events: d.Events, Summary: d.Summary}
	projects.Routes(authed)

	tasks := &mtask.Handler{
		Store:    d.Store,
		Events:   d.Events,
		Summary:  d.Summary,
		Archiver: d.Archiver,
		Now:      d.Now,
	}
	tasks.Routes(authed)

	return engine
}

func setCors(engine *gin.Engine, d Deps) {
	if len(d.AllowedOrigins) == 0 {
		return
	}
	corsconfig := cors.DefaultConfig()
	corsconfig.AllowOrigins = d.AllowedOrigins
	if len(d.AllowedMethods) > 0 {
		corsconfig.AllowMethods = d.AllowedMethods
	}
	if len(d.AllowedHeaders) > 0 {
		corsconfig.AllowHeaders = d.AllowedHeaders
	}
	if containsWildcard(d.AllowedOrigins) {
		corsconfig.AllowOrigins = nil
		corsconfig.AllowAllOrigins = true
	} else {
		corsconfig.AllowCredentials = true
	}
	engine.Use(cors.New(corsconfig))
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func handleHealth(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.DBDriver {
	case DriverPostgres:
		return pgstore.Open(ctx, pgstore.DSN(cfg.DBUser, cfg.DBPassword, cfg.DBAddress, cfg.DBName, cfg.DBSSL))
	case DriverMongo:
		return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		return memstore.New(), nil
	}
}

// buildDeps connects every configured backend. The returned closer
// releases whatever was opened, also on error.
func buildDeps(ctx context.Context, cfg Config) (Deps, func(), error) {
	d := Deps{
		AllowAdminSignup: cfg.AllowAdminSignup,
		SecureCookie:     cfg.SecureCookie,
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return d, closeAll, fmt.Errorf("failed to open %s store: %w", cfg.DBDriver, err)
	}
	d.Store = st
	closers = append(closers, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(cctx); err != nil {
			logger.Warn("failed to close the store", "error", err)
		}
	})
	logger.Info("store ready", "driver", cfg.DBDriver)

	switch cfg.AuthProvider {
	case AuthKeycloak:
		kc, err := authmw.NewKeycloakService(authmw.KeycloakConfig{
			Address:      cfg.AuthAddress,
			Realm:        cfg.Realm,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Audience:     cfg.Audience,
		})
		if err != nil {
			return d, closeAll, err
		}
		d.Keycloak = kc
		d.Verifier = kc.Auth
		closers = append(closers, kc.Close)
	default:
		tokens, err := authmw.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL, tokenIssuer)
		if err != nil {
			return d, closeAll, err
		}
		d.Tokens = tokens
		d.Verifier = tokens
	}

	if cfg.AdminEmail != "" {
		password := cfg.AdminPassword
		if d.Keycloak != nil {
			password = ""
		}
		if _, err := muser.EnsureAdmin(ctx, st, cfg.AdminName, cfg.AdminEmail, password); err != nil {
			return d, closeAll, fmt.Errorf("failed to seed the admin account: %w", err)
		}
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL, cfg.SummaryTTL)
		if err != nil {
			return d, closeAll, err
		}
		d.Summary = rc
		closers = append(closers, func() { _ = rc.Close() })
	}

	if cfg.NatsURL != "" {
		nc, err := events.NewNATS(cfg.NatsURL, cfg.NatsSubjectPrefix)
		if err != nil {
			return d, closeAll, err
		}
		d.Events = nc
		closers = append(closers, nc.Close)
	}

	if cfg.S3Endpoint != "" {
		m, err := exports.NewMinio(ctx, exports.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
			URLTTL:    cfg.ExportURLTTL,
		})
		if err != nil {
			return d, closeAll, err
		}
		d.Archiver = m
	}

	return d, closeAll, nil
}

// InitAndServe loads the config at confPath, connects the backends and
// serves until SIGINT or SIGTERM.
func InitAndServe(confPath string) error {
	config := loadConfig(confPath)

	if err := logger.Init(config.Log); err != nil {
		return fmt.Errorf("failed to initialize the logger: %w", err)
	}
	logger.Info(config.toString())

	if err := config.validate(); err != nil {
		return err
	}
	setGinMode(config.ApiGinMode)

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, closeDeps, err := buildDeps(bootCtx, config)
	cancel()
	defer closeDeps()
	if err != nil {
		return err
	}

	engine := NewEngine(deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", config.Ip, config.Port),
		Handler:           engine,
		ReadHeaderTimeout: time.Second * 5,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "profile", config.Profile)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}

func setGinMode(mode string) {
	switch strings.ToLower(mode) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "envgin":
		gin.SetMode(os.Getenv(gin.EnvGinMode))
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}

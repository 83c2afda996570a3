package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/db"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/http/api/admin"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/http/api/front"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/logging"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/provider/mock"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/provider/upstream"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/security"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/settings"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateUserParams holds inputs for user creation.
type CreateUserParams struct {
	Username string
	Password string
	Admin    bool
}

// runtime bundles the components shared by every command.
type runtime struct {
	cfg   config.Config
	conn  *gorm.DB
	store *store.Store
}

func open(ctx context.Context, appCfg config.AppConfig) (*runtime, error) {
	cfg, errLoad := config.LoadApp(appCfg)
	if errLoad != nil {
		return nil, errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN, db.Options{TimeZone: cfg.Database.TimeZone})
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		_ = db.Close(conn)
		return nil, errMigrate
	}
	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		log.WithError(errSettings).Warn("load runtime settings failed, using config defaults")
	}
	return &runtime{cfg: cfg, conn: conn, store: store.New(conn, cfg.Quota.CapMultiplier)}, nil
}

func (rt *runtime) close() {
	if errClose := db.Close(rt.conn); errClose != nil {
		log.WithError(errClose).Warn("close database failed")
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, appCfg config.AppConfig) error {
	rt, errOpen := open(ctx, appCfg)
	if errOpen != nil {
		return errOpen
	}
	rt.close()
	return nil
}

// RecoverOnce applies a single pool recovery step and returns its result.
func RecoverOnce(ctx context.Context, appCfg config.AppConfig, force bool) (quota.RecoveryResult, error) {
	rt, errOpen := open(ctx, appCfg)
	if errOpen != nil {
		return quota.RecoveryResult{}, errOpen
	}
	defer rt.close()

	redisClient, errRedis := newRedisClient(ctx, rt.cfg.Redis)
	if errRedis != nil {
		return quota.RecoveryResult{}, errRedis
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	scheduler := quota.NewRecoveryScheduler(rt.store, newLocker(redisClient), quota.OptionsFromConfig(rt.cfg.Quota))
	return scheduler.Run(ctx, force)
}

// CreateUser creates a user account with a hashed password.
func CreateUser(ctx context.Context, appCfg config.AppConfig, params CreateUserParams) (uint64, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" || params.Password == "" {
		return 0, errors.New("username and password are required")
	}
	rt, errOpen := open(ctx, appCfg)
	if errOpen != nil {
		return 0, errOpen
	}
	defer rt.close()

	hash, errHash := security.HashPassword(params.Password)
	if errHash != nil {
		return 0, errHash
	}
	user, errCreate := rt.store.CreateUser(ctx, username, hash, params.Admin)
	if errCreate != nil {
		return 0, errCreate
	}
	return user.ID, nil
}

// IssueToken signs a token for an existing user.
func IssueToken(ctx context.Context, appCfg config.AppConfig, username string) (string, error) {
	rt, errOpen := open(ctx, appCfg)
	if errOpen != nil {
		return "", errOpen
	}
	defer rt.close()

	user, errFind := rt.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errFind != nil {
		return "", errFind
	}
	if user.Disabled {
		return "", fmt.Errorf("user %s is disabled", user.Username)
	}
	return security.GenerateToken(rt.cfg.JWT.Secret, user.ID, user.Username, user.IsAdmin, rt.cfg.JWT.Expiry)
}

// RunServer boots the HTTP API with the quota engine and its background loops.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	rt, errOpen := open(ctx, appCfg)
	if errOpen != nil {
		return errOpen
	}
	defer rt.close()
	cfg := rt.cfg

	logCloser, errLogging := logging.Setup(cfg.Logging)
	if errLogging != nil {
		return errLogging
	}
	defer func() { _ = logCloser.Close() }()

	redisClient, errRedis := newRedisClient(ctx, cfg.Redis)
	if errRedis != nil {
		return errRedis
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	provider := newProvider(cfg.Provider)
	opts := quota.OptionsFromConfig(cfg.Quota)
	engine := quota.NewEngine(rt.store, rt.store, rt.store, provider, opts)
	poller := quota.NewPoller(rt.store, provider)
	scheduler := quota.NewRecoveryScheduler(rt.store, newLocker(redisClient), opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	poller.Start(runCtx)
	scheduler.Start(runCtx)

	if strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engineHTTP := gin.New()
	engineHTTP.Use(logging.RequestID(), logging.AccessLog(), logging.Recovery())
	front.RegisterFrontRoutes(engineHTTP, rt.store, engine, poller, cfg.JWT)
	admin.RegisterAdminRoutes(engineHTTP, rt.store, scheduler, cfg.JWT, cfg.Quota.LowQuotaThreshold)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engineHTTP,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("antihub listening on %s (mock provider=%t)", cfg.Server.Addr, cfg.Provider.Mock)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return <-errCh
}

func newProvider(cfg config.ProviderConfig) quota.Provider {
	if cfg.Mock {
		log.Warn("using the in-memory mock provider")
		return mock.New()
	}
	return upstream.New(cfg.BaseURL, cfg.Timeout)
}

// newRedisClient returns nil when no redis address is configured.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, errPing)
	}
	return client, nil
}

func newLocker(client *redis.Client) quota.Locker {
	if client == nil {
		return quota.NewLocalLocker()
	}
	return quota.NewRedisLocker(client)
}

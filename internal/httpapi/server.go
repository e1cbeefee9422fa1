// Package httpapi exposes the reward flow over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// Rewarder runs the verification-and-reward flow.
type Rewarder interface {
	Reward(ctx context.Context, request reward.Request) (reward.Result, error)
}

// FollowerChecker answers the plain follower question.
type FollowerChecker interface {
	CheckFollower(ctx context.Context, rawUsername string) (bool, error)
}

// LedgerReader exposes the current paid set.
type LedgerReader interface {
	Load(ctx context.Context) (reward.LedgerSnapshot, error)
}

// Dependencies are the domain collaborators served by the facade. Rewards and
// Ledger are nil when the service secrets are not configured.
type Dependencies struct {
	Logger    *zap.Logger
	Rewards   Rewarder
	Followers FollowerChecker
	Ledger    LedgerReader
}

// Run serves the HTTP facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Followers == nil {
		return errors.New("follower checker dependency is nil")
	}

	var validator *sessionvalidator.Validator
	if cfg.AdminEnabled() {
		sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
			SigningKey: []byte(cfg.SessionSigningKey),
			Issuer:     cfg.SessionIssuer,
			CookieName: cfg.SessionCookieName,
		})
		if err != nil {
			return fmt.Errorf("session validator: %w", err)
		}
		validator = sessionValidator
	}

	handler := newHandler(logger, cfg, deps)
	router := setupRouter(cfg, handler, validator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gitsats listening", zap.String("addr", cfg.ListenAddr), zap.Bool("rewards_enabled", deps.Rewards != nil), zap.Bool("admin_enabled", validator != nil))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg)))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(noCache())
	api.GET("", handler.handleCheck)
	api.GET("/follow", handler.handleFollow)

	if validator != nil {
		admin := api.Group("/admin")
		admin.Use(validator.GinMiddleware(claimsContextKey))
		admin.GET("/paid", handler.handlePaid)
	}

	return router
}

func corsConfig(cfg Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if cfg.allowsAllOrigins() {
		corsCfg.AllowAllOrigins = true
		return corsCfg
	}
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	corsCfg.AllowCredentials = true
	return corsCfg
}

func noCache() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Cache-Control", "no-cache")
		ctx.Next()
	}
}

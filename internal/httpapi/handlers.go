package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	queryUsername  = "un"
	queryPublicKey = "pk"

	messageMissingEnvironment = "Missing environment variables"
	messageMissingParameters  = "Missing parameters"
	messageNotFollowing       = "Not following"
	messageAlreadyPaid        = "Already paid"
	messageDirectory          = "Error checking followers"
	messageLedgerFetch        = "Error fetching paid users event"
	messageLedgerDecode       = "Error parsing paid users"
	messageInvoice            = "Error creating invoice"
	messageWalletConnect      = "Error connecting wallet"
	messageLedgerCommit       = "Error publishing paid list"
	messageInternal           = "Internal error"
)

// errorMapping translates a domain sentinel into an HTTP status and message.
type errorMapping struct {
	sentinel error
	status   int
	message  string
}

var errorMappings = []errorMapping{
	{sentinel: reward.ErrMissingParameters, status: http.StatusBadRequest, message: messageMissingParameters},
	{sentinel: reward.ErrNotFollowing, status: http.StatusBadRequest, message: messageNotFollowing},
	{sentinel: reward.ErrAlreadyPaid, status: http.StatusBadRequest, message: messageAlreadyPaid},
	{sentinel: reward.ErrDirectoryUnavailable, status: http.StatusInternalServerError, message: messageDirectory},
	{sentinel: reward.ErrLedgerDecodeFailed, status: http.StatusInternalServerError, message: messageLedgerDecode},
	{sentinel: reward.ErrLedgerFetchFailed, status: http.StatusInternalServerError, message: messageLedgerFetch},
	{sentinel: reward.ErrRecipientUnresolvable, status: http.StatusInternalServerError, message: messageInvoice},
	{sentinel: reward.ErrInvoiceCreationFailed, status: http.StatusInternalServerError, message: messageInvoice},
	{sentinel: reward.ErrWalletConnectFailed, status: http.StatusInternalServerError, message: messageWalletConnect},
	{sentinel: reward.ErrLedgerCommitFailed, status: http.StatusInternalServerError, message: messageLedgerCommit},
	{sentinel: reward.ErrInvalidConfig, status: http.StatusInternalServerError, message: messageMissingEnvironment},
}

func mapError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.sentinel) {
			return mapping.status, mapping.message
		}
	}
	return http.StatusInternalServerError, messageInternal
}

type httpHandler struct {
	logger    *zap.Logger
	cfg       Config
	rewards   Rewarder
	followers FollowerChecker
	ledger    LedgerReader
	adminIDs  map[string]struct{}
}

func newHandler(logger *zap.Logger, cfg Config, deps Dependencies) *httpHandler {
	adminIDs := make(map[string]struct{}, len(cfg.AdminUserIDs))
	for _, userID := range cfg.AdminUserIDs {
		adminIDs[userID] = struct{}{}
	}
	return &httpHandler{
		logger:    logger,
		cfg:       cfg,
		rewards:   deps.Rewards,
		followers: deps.Followers,
		ledger:    deps.Ledger,
		adminIDs:  adminIDs,
	}
}

func (handler *httpHandler) handleFollow(ctx *gin.Context) {
	if handler.rewards == nil {
		ctx.JSON(http.StatusInternalServerError, failureResponse(messageMissingEnvironment))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.rewards.Reward(requestCtx, reward.Request{
		Username:  ctx.Query(queryUsername),
		PublicKey: ctx.Query(queryPublicKey),
	})
	if err != nil {
		status, message := mapError(err)
		if status >= http.StatusInternalServerError {
			handler.logger.Error("reward failed", zap.String("username", ctx.Query(queryUsername)), zap.Error(err))
		}
		ctx.JSON(status, failureResponse(message))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":     true,
		"isFollowing": result.IsFollowing,
		"isPaid":      result.IsPaid,
	})
}

func (handler *httpHandler) handleCheck(ctx *gin.Context) {
	username := ctx.Query(queryUsername)
	if username == "" {
		ctx.JSON(http.StatusOK, gin.H{"isFollowing": false})
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	isFollowing, err := handler.followers.CheckFollower(requestCtx, username)
	if err != nil {
		status, message := mapError(err)
		handler.logger.Error("follower check failed", zap.String("username", username), zap.Error(err))
		ctx.JSON(status, failureResponse(message))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"isFollowing": isFollowing})
}

func (handler *httpHandler) handlePaid(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, failureResponse("unauthorized"))
		return
	}
	if len(handler.adminIDs) > 0 {
		if _, allowed := handler.adminIDs[claims.GetUserID()]; !allowed {
			ctx.JSON(http.StatusForbidden, failureResponse("forbidden"))
			return
		}
	}
	if handler.ledger == nil {
		ctx.JSON(http.StatusInternalServerError, failureResponse(messageMissingEnvironment))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	snapshot, err := handler.ledger.Load(requestCtx)
	if err != nil {
		status, message := mapError(err)
		handler.logger.Error("ledger load failed", zap.Error(err))
		ctx.JSON(status, failureResponse(message))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":          true,
		"paid":             snapshot.Usernames(),
		"count":            snapshot.Len(),
		"updated_unix_utc": snapshot.Version().UTC().Unix(),
	})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func failureResponse(message string) gin.H {
	return gin.H{
		"success": false,
		"error":   message,
	}
}

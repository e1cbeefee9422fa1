package httpapi

import (
	"context"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"go.uber.org/zap"
)

// ZapOperationLogger records reward operations as structured log lines.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger adapts logger to reward.OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry reward.OperationLog) {
	fields := []zap.Field{
		zap.String("attempt_id", entry.AttemptID),
		zap.String("operation", entry.Operation),
		zap.String("stage", entry.Stage.String()),
		zap.String("status", entry.Status),
		zap.String("username", entry.Username.String()),
		zap.String("public_key", entry.PublicKey.String()),
		zap.Int64("amount_msat", entry.Amount.Int64()),
		zap.Bool("is_following", entry.IsFollowing),
		zap.Bool("is_paid", entry.IsPaid),
		zap.Bool("committed", entry.Committed),
	}
	if entry.PaymentError != nil {
		fields = append(fields, zap.NamedError("payment_error", entry.PaymentError))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("reward operation failed", fields...)
		return
	}
	operationLogger.logger.Info("reward operation", fields...)
}

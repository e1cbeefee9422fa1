package reward

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes the terminal outcome of one reward attempt.
type OperationLog struct {
	AttemptID    string
	Operation    string
	Stage        Stage
	Username     Username
	PublicKey    PublicKey
	Amount       AmountMilliSats
	IsFollowing  bool
	IsPaid       bool
	Committed    bool
	Status       string
	PaymentError error
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCommitPolicy overrides the default CommitAlways policy.
func WithCommitPolicy(policy CommitPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// WithCommitTimeout bounds the ledger commit, which runs detached from the
// request deadline once a payment was attempted.
func WithCommitTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.commitBudget = timeout
		}
	}
}

// WithAttemptIDGenerator replaces the uuid-based attempt id source.
func WithAttemptIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newAttemptID = generate
		}
	}
}

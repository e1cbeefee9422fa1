package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service sequences follower verification, ledger dedup, invoicing, payment and
// ledger update into one request/response cycle.
//
// Service holds no per-request state; every call re-reads the ledger. Commits
// are not compare-and-swap: two concurrent calls for the same username can both
// observe an unpaid snapshot and both pay.
type Service struct {
	directory    FollowerDirectory
	ledger       PaidLedger
	issuer       InvoiceIssuer
	payer        PaymentExecutor
	amount       AmountMilliSats
	policy       CommitPolicy
	logger       OperationLogger
	newAttemptID func() string
	commitBudget time.Duration
}

// NewService wires a Service.
func NewService(directory FollowerDirectory, ledger PaidLedger, issuer InvoiceIssuer, payer PaymentExecutor, amount AmountMilliSats, options ...ServiceOption) (*Service, error) {
	if directory == nil {
		return nil, fmt.Errorf("%w: follower directory dependency is nil", ErrInvalidConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: paid ledger dependency is nil", ErrInvalidConfig)
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: invoice issuer dependency is nil", ErrInvalidConfig)
	}
	if payer == nil {
		return nil, fmt.Errorf("%w: payment executor dependency is nil", ErrInvalidConfig)
	}
	if _, err := NewAmountMilliSats(amount.Int64()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	service := &Service{
		directory:    directory,
		ledger:       ledger,
		issuer:       issuer,
		payer:        payer,
		amount:       amount,
		policy:       CommitAlways,
		newAttemptID: uuid.NewString,
		commitBudget: DefaultCommitTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if _, err := ParseCommitPolicy(string(service.policy)); err != nil {
		return nil, err
	}
	return service, nil
}

// Amount returns the configured reward amount.
func (service *Service) Amount() AmountMilliSats {
	return service.amount
}

// Policy returns the configured commit policy.
func (service *Service) Policy() CommitPolicy {
	return service.policy
}

// CheckFollower reports whether rawUsername follows the target account without rewarding it.
func (service *Service) CheckFollower(ctx context.Context, rawUsername string) (bool, error) {
	entry := OperationLog{AttemptID: service.newAttemptID(), Operation: operationCheckFollow, Stage: StageValidateInput}
	username, err := NewUsername(rawUsername)
	if err != nil {
		entry.Error = WrapError(operationCheckFollow, StageValidateInput.String(), errorCodeMissingParameters, err)
		service.logOperation(ctx, entry)
		return false, entry.Error
	}
	entry.Username = username
	entry.Stage = StageVerifyFollower
	isFollowing, err := service.directory.IsFollower(ctx, username)
	if err != nil {
		entry.Error = WrapError(operationCheckFollow, StageVerifyFollower.String(), errorCodeDirectoryUnavailable, classify(err, ErrDirectoryUnavailable))
		service.logOperation(ctx, entry)
		return false, entry.Error
	}
	entry.IsFollowing = isFollowing
	entry.Stage = StageRespond
	service.logOperation(ctx, entry)
	return isFollowing, nil
}

// Reward runs the full verification-and-reward flow for one request.
func (service *Service) Reward(ctx context.Context, request Request) (Result, error) {
	entry := OperationLog{
		AttemptID: service.newAttemptID(),
		Operation: operationReward,
		Stage:     StageValidateInput,
		Amount:    service.amount,
	}

	identity, err := NewIdentity(request.Username, request.PublicKey)
	if err != nil {
		return Result{}, service.fail(ctx, entry, errorCodeMissingParameters, err)
	}
	entry.Username = identity.Username
	entry.PublicKey = identity.PublicKey

	entry.Stage = StageVerifyFollower
	isFollowing, err := service.directory.IsFollower(ctx, identity.Username)
	if err != nil {
		return Result{}, service.fail(ctx, entry, errorCodeDirectoryUnavailable, classify(err, ErrDirectoryUnavailable))
	}
	if !isFollowing {
		return Result{}, service.fail(ctx, entry, errorCodeNotFollowing, ErrNotFollowing)
	}
	entry.IsFollowing = true

	entry.Stage = StageLoadLedger
	snapshot, err := service.ledger.Load(ctx)
	if err != nil {
		err = classify(err, ErrLedgerFetchFailed, ErrLedgerDecodeFailed)
		code := errorCodeLedgerFetch
		if errors.Is(err, ErrLedgerDecodeFailed) {
			code = errorCodeLedgerDecode
		}
		return Result{}, service.fail(ctx, entry, code, err)
	}

	entry.Stage = StageCheckDuplicate
	if snapshot.Contains(identity.Username) {
		return Result{}, service.fail(ctx, entry, errorCodeAlreadyPaid, ErrAlreadyPaid)
	}

	entry.Stage = StageIssueInvoice
	invoice, err := service.issuer.CreateInvoice(ctx, identity.PublicKey, service.amount)
	if err != nil {
		err = classify(err, ErrInvoiceCreationFailed, ErrRecipientUnresolvable)
		code := errorCodeInvoiceCreation
		if errors.Is(err, ErrRecipientUnresolvable) {
			code = errorCodeRecipientUnresolvable
		}
		return Result{}, service.fail(ctx, entry, code, err)
	}

	entry.Stage = StageExecutePayment
	outcome, err := service.payer.Pay(ctx, invoice)
	if err != nil {
		if errors.Is(err, ErrWalletConnectFailed) {
			return Result{}, service.fail(ctx, entry, errorCodeWalletConnect, err)
		}
		entry.PaymentError = classify(err, ErrPaymentRejected)
		outcome = PaymentOutcome{}
	}
	entry.IsPaid = outcome.Settled

	entry.Stage = StageCommitLedger
	if service.policy == CommitOnSettlement && !outcome.Settled {
		entry.Stage = StageRespond
		entry.Status = operationStatusSkipped
		service.logOperation(ctx, entry)
		return Result{IsFollowing: true, IsPaid: false}, nil
	}
	// The commit must not inherit a deadline spent waiting on the wallet.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.commitBudget)
	defer cancel()
	if err := service.ledger.Commit(commitCtx, snapshot, identity.Username); err != nil {
		return Result{}, service.fail(ctx, entry, errorCodeLedgerCommit, classify(err, ErrLedgerCommitFailed))
	}
	entry.Committed = true

	entry.Stage = StageRespond
	service.logOperation(ctx, entry)
	return Result{IsFollowing: true, IsPaid: outcome.Settled, Committed: true}, nil
}

func (service *Service) fail(ctx context.Context, entry OperationLog, code string, err error) error {
	entry.Error = WrapError(entry.Operation, entry.Stage.String(), code, err)
	service.logOperation(ctx, entry)
	return entry.Error
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

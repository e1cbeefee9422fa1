package reward

import (
	"context"
	"fmt"
	"testing"
	"time"
)

const (
	followerAlice   = "alice"
	followerBob     = "bob"
	recipientKeyHex = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	rewardMilliSats = 1_000_000
)

type stubDirectory struct {
	followers map[string]bool
	err       error
	calls     int
}

func (directory *stubDirectory) IsFollower(_ context.Context, username Username) (bool, error) {
	directory.calls++
	if directory.err != nil {
		return false, directory.err
	}
	return directory.followers[username.String()], nil
}

type memoryLedger struct {
	usernames []string
	loadErr   error
	commitErr error
	loads     int
	commits   int
}

func (ledger *memoryLedger) Load(context.Context) (LedgerSnapshot, error) {
	ledger.loads++
	if ledger.loadErr != nil {
		return LedgerSnapshot{}, ledger.loadErr
	}
	return NewLedgerSnapshot(ledger.usernames, time.Unix(int64(ledger.commits), 0)), nil
}

func (ledger *memoryLedger) Commit(ctx context.Context, snapshot LedgerSnapshot, username Username) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ledger.commitErr != nil {
		return ledger.commitErr
	}
	ledger.commits++
	ledger.usernames = snapshot.With(username).Usernames()
	return nil
}

type stubIssuer struct {
	err   error
	calls int
}

func (issuer *stubIssuer) CreateInvoice(_ context.Context, _ PublicKey, amount AmountMilliSats) (Invoice, error) {
	issuer.calls++
	if issuer.err != nil {
		return Invoice{}, issuer.err
	}
	return Invoice{PaymentRequest: "lnbc10u1stub", Amount: amount}, nil
}

type stubPayer struct {
	outcome PaymentOutcome
	err     error
	hang    bool
	calls   int
}

func (payer *stubPayer) Pay(ctx context.Context, _ Invoice) (PaymentOutcome, error) {
	payer.calls++
	if payer.hang {
		<-ctx.Done()
		return PaymentOutcome{}, fmt.Errorf("%w: %w", ErrPaymentRejected, ctx.Err())
	}
	if payer.err != nil {
		return PaymentOutcome{}, payer.err
	}
	return payer.outcome, nil
}

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

type serviceFixture struct {
	directory *stubDirectory
	ledger    *memoryLedger
	issuer    *stubIssuer
	payer     *stubPayer
	logger    *recorderLogger
}

func newServiceFixture() *serviceFixture {
	return &serviceFixture{
		directory: &stubDirectory{followers: map[string]bool{followerAlice: true}},
		ledger:    &memoryLedger{},
		issuer:    &stubIssuer{},
		payer:     &stubPayer{outcome: PaymentOutcome{Settled: true}},
		logger:    &recorderLogger{},
	}
}

func (fixture *serviceFixture) service(test *testing.T, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithOperationLogger(fixture.logger), WithAttemptIDGenerator(func() string { return "attempt-1" })}, options...)
	service, err := NewService(fixture.directory, fixture.ledger, fixture.issuer, fixture.payer, AmountMilliSats(rewardMilliSats), options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

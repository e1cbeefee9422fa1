package reward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
)

// AmountMilliSats is a positive amount in milli-satoshis.
type AmountMilliSats int64

// NewAmountMilliSats validates an amount and ensures it is strictly positive.
func NewAmountMilliSats(raw int64) (AmountMilliSats, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return AmountMilliSats(raw), nil
}

// Int64 returns the raw milli-satoshi value.
func (amount AmountMilliSats) Int64() int64 {
	return int64(amount)
}

// Sats returns the whole-satoshi part of the amount.
func (amount AmountMilliSats) Sats() int64 {
	return int64(amount) / milliSatsPerSat
}

// Username is a lower-cased follower handle.
type Username struct {
	value string
}

// NewUsername trims and lower-cases a handle.
func NewUsername(raw string) (Username, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Username{}, fmt.Errorf("%w: empty username", ErrMissingParameters)
	}
	return Username{value: normalized}, nil
}

// String returns the normalized handle.
func (username Username) String() string {
	return username.value
}

// PublicKey is the recipient's key in the relay network's hex encoding.
type PublicKey struct {
	value string
}

// NewPublicKey validates a non-empty public key.
func NewPublicKey(raw string) (PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PublicKey{}, fmt.Errorf("%w: empty public key", ErrMissingParameters)
	}
	return PublicKey{value: trimmed}, nil
}

// String returns the key as supplied.
func (publicKey PublicKey) String() string {
	return publicKey.value
}

// Identity is the (username, public key) pair a reward is requested for.
type Identity struct {
	Username  Username
	PublicKey PublicKey
}

// NewIdentity validates both halves of an identity.
func NewIdentity(rawUsername string, rawPublicKey string) (Identity, error) {
	username, err := NewUsername(rawUsername)
	if err != nil {
		return Identity{}, err
	}
	publicKey, err := NewPublicKey(rawPublicKey)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Username: username, PublicKey: publicKey}, nil
}

// Request carries the raw inputs of one reward attempt.
type Request struct {
	Username  string
	PublicKey string
}

// Result reports the outcome of a completed reward attempt.
type Result struct {
	IsFollowing bool
	IsPaid      bool
	Committed   bool
}

// Invoice is a payable request for an exact amount.
type Invoice struct {
	PaymentRequest string
	Amount         AmountMilliSats
	PaymentHash    lntypes.Hash
}

// PaymentOutcome is the settlement status reported by the wallet.
type PaymentOutcome struct {
	Settled  bool
	Preimage lntypes.Preimage
}

// CommitPolicy decides whether an unsettled payment still lands in the ledger.
type CommitPolicy string

const (
	// CommitAlways records the username whether or not the payment settled.
	CommitAlways CommitPolicy = "always"
	// CommitOnSettlement records the username only after a settled payment.
	CommitOnSettlement CommitPolicy = "settled"
)

// ParseCommitPolicy validates a textual policy. Empty input selects CommitAlways.
func ParseCommitPolicy(raw string) (CommitPolicy, error) {
	switch CommitPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CommitAlways:
		return CommitAlways, nil
	case CommitOnSettlement:
		return CommitOnSettlement, nil
	default:
		return "", fmt.Errorf("%w: unknown commit policy %q", ErrInvalidConfig, raw)
	}
}

// LedgerSnapshot is the paid set as read from one ledger version.
type LedgerSnapshot struct {
	usernames []Username
	index     map[string]struct{}
	version   time.Time
}

// NewLedgerSnapshot normalizes and de-duplicates raw usernames, keeping first-seen order.
// Blank entries are dropped.
func NewLedgerSnapshot(rawUsernames []string, version time.Time) LedgerSnapshot {
	snapshot := LedgerSnapshot{
		usernames: make([]Username, 0, len(rawUsernames)),
		index:     make(map[string]struct{}, len(rawUsernames)),
		version:   version,
	}
	for _, raw := range rawUsernames {
		username, err := NewUsername(raw)
		if err != nil {
			continue
		}
		if _, exists := snapshot.index[username.String()]; exists {
			continue
		}
		snapshot.index[username.String()] = struct{}{}
		snapshot.usernames = append(snapshot.usernames, username)
	}
	return snapshot
}

// Contains reports whether username was already rewarded.
func (snapshot LedgerSnapshot) Contains(username Username) bool {
	_, exists := snapshot.index[username.String()]
	return exists
}

// Len returns the number of rewarded usernames.
func (snapshot LedgerSnapshot) Len() int {
	return len(snapshot.usernames)
}

// Usernames returns the rewarded usernames in ledger order.
func (snapshot LedgerSnapshot) Usernames() []string {
	values := make([]string, 0, len(snapshot.usernames))
	for _, username := range snapshot.usernames {
		values = append(values, username.String())
	}
	return values
}

// Version returns the creation time of the ledger version the snapshot was read from.
func (snapshot LedgerSnapshot) Version() time.Time {
	return snapshot.version
}

// With returns a new snapshot with username appended. The receiver is unchanged.
func (snapshot LedgerSnapshot) With(username Username) LedgerSnapshot {
	return NewLedgerSnapshot(append(snapshot.Usernames(), username.String()), snapshot.version)
}

// FollowerDirectory answers whether a username follows the target account.
// A lookup failure must be returned as an error, never as false.
type FollowerDirectory interface {
	IsFollower(ctx context.Context, username Username) (bool, error)
}

// PaidLedger loads and commits the encrypted set of rewarded usernames.
type PaidLedger interface {
	Load(ctx context.Context) (LedgerSnapshot, error)
	Commit(ctx context.Context, snapshot LedgerSnapshot, username Username) error
}

// InvoiceIssuer produces a payable invoice for a recipient.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, recipient PublicKey, amount AmountMilliSats) (Invoice, error)
}

// PaymentExecutor pays an invoice from the service's funds.
type PaymentExecutor interface {
	Pay(ctx context.Context, invoice Invoice) (PaymentOutcome, error)
}

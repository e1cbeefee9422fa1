// Package paidledger keeps the set of rewarded usernames in a single encrypted,
// latest-wins record owned by the service identity.
package paidledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
)

const (
	// KindApplicationData is the parameterized replaceable kind used for the record.
	KindApplicationData = 30078
	// DefaultIdentifier is the d-tag addressing the record.
	DefaultIdentifier = "gitsats-paid-follow"

	tagIdentifier = "d"
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(ledger *Ledger) {
		if now != nil {
			ledger.now = now
		}
	}
}

// Ledger implements reward.PaidLedger over an eventstore.Store.
type Ledger struct {
	store      eventstore.Store
	signer     identity.Signer
	secrets    identity.SecretStore
	identifier string
	now        func() time.Time
}

// New wires a Ledger. An empty identifier selects DefaultIdentifier.
func New(store eventstore.Store, signer identity.Signer, secrets identity.SecretStore, identifier string, options ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: event store dependency is nil", reward.ErrInvalidConfig)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signer dependency is nil", reward.ErrInvalidConfig)
	}
	if secrets == nil {
		return nil, fmt.Errorf("%w: secret store dependency is nil", reward.ErrInvalidConfig)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		identifier = DefaultIdentifier
	}
	ledger := &Ledger{store: store, signer: signer, secrets: secrets, identifier: identifier, now: time.Now}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger, nil
}

// Identifier returns the d-tag of the ledger record.
func (ledger *Ledger) Identifier() string {
	return ledger.identifier
}

// Load fetches, decrypts and parses the latest ledger version.
func (ledger *Ledger) Load(ctx context.Context) (reward.LedgerSnapshot, error) {
	event, err := ledger.store.QueryLatest(ctx, ledger.filter())
	if err != nil {
		return reward.LedgerSnapshot{}, fmt.Errorf("%w: %w", reward.ErrLedgerFetchFailed, err)
	}
	if event == nil {
		return reward.LedgerSnapshot{}, fmt.Errorf("%w: %w", reward.ErrLedgerFetchFailed, eventstore.ErrNotFound)
	}
	if event.PubKey != ledger.signer.PublicKey() {
		return reward.LedgerSnapshot{}, fmt.Errorf("%w: record authored by %s", reward.ErrLedgerDecodeFailed, event.PubKey)
	}
	plaintext, err := ledger.secrets.DecryptOwn(event.Content)
	if err != nil {
		return reward.LedgerSnapshot{}, fmt.Errorf("%w: %w", reward.ErrLedgerDecodeFailed, err)
	}
	usernames, err := decodeUsernames(plaintext)
	if err != nil {
		return reward.LedgerSnapshot{}, fmt.Errorf("%w: %w", reward.ErrLedgerDecodeFailed, err)
	}
	return reward.NewLedgerSnapshot(usernames, event.CreatedAt.Time()), nil
}

// Commit appends username to snapshot and publishes the result as a new version.
// There is no compare-and-swap: a concurrent commit derived from the same
// snapshot is silently superseded.
func (ledger *Ledger) Commit(ctx context.Context, snapshot reward.LedgerSnapshot, username reward.Username) error {
	if err := ledger.publish(ctx, snapshot.With(username)); err != nil {
		return fmt.Errorf("%w: %w", reward.ErrLedgerCommitFailed, err)
	}
	return nil
}

// Initialize publishes an empty ledger when none exists yet. It reports whether a
// record was created.
func (ledger *Ledger) Initialize(ctx context.Context) (reward.LedgerSnapshot, bool, error) {
	snapshot, err := ledger.Load(ctx)
	if err == nil {
		return snapshot, false, nil
	}
	if !errors.Is(err, eventstore.ErrNotFound) {
		return reward.LedgerSnapshot{}, false, err
	}
	empty := reward.NewLedgerSnapshot(nil, time.Time{})
	if err := ledger.publish(ctx, empty); err != nil {
		return reward.LedgerSnapshot{}, false, fmt.Errorf("%w: %w", reward.ErrLedgerCommitFailed, err)
	}
	return empty, true, nil
}

func (ledger *Ledger) publish(ctx context.Context, snapshot reward.LedgerSnapshot) error {
	plaintext, err := encodeUsernames(snapshot.Usernames())
	if err != nil {
		return err
	}
	ciphertext, err := ledger.secrets.EncryptForSelf(plaintext)
	if err != nil {
		return err
	}
	event := nostr.Event{
		Kind:      KindApplicationData,
		CreatedAt: ledger.nextVersion(snapshot.Version()),
		Tags:      nostr.Tags{{tagIdentifier, ledger.identifier}},
		Content:   ciphertext,
	}
	if err := ledger.signer.Sign(&event); err != nil {
		return err
	}
	return ledger.store.Publish(ctx, event)
}

// nextVersion keeps a new version strictly newer than the one it was derived from.
func (ledger *Ledger) nextVersion(previous time.Time) nostr.Timestamp {
	now := nostr.Timestamp(ledger.now().Unix())
	if previous.IsZero() {
		return now
	}
	floor := nostr.Timestamp(previous.Unix()) + 1
	if now < floor {
		return floor
	}
	return now
}

func (ledger *Ledger) filter() nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{KindApplicationData},
		Authors: []string{ledger.signer.PublicKey()},
		Tags:    nostr.TagMap{tagIdentifier: []string{ledger.identifier}},
		Limit:   1,
	}
}

func encodeUsernames(usernames []string) (string, error) {
	if usernames == nil {
		usernames = []string{}
	}
	raw, err := json.Marshal(usernames)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeUsernames(plaintext string) ([]string, error) {
	var usernames []string
	if err := json.Unmarshal([]byte(plaintext), &usernames); err != nil {
		return nil, err
	}
	return usernames, nil
}

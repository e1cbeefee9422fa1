package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
	"github.com/MarkoPoloResearchLab/gitsats/internal/paidledger"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/glebarez/sqlite"
	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"
)

const (
	kindAppData    = 30078
	ledgerAddress  = "gitsats-paid-follow"
	otherAddress   = "something-else"
	errorMismatch  = "expected %v, got %v"
	contentVersion = "version"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/events.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return New(db)
}

func signedEvent(test *testing.T, secretKey string, identifier string, createdAt int64, content string) nostr.Event {
	test.Helper()
	event := nostr.Event{
		Kind:      kindAppData,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{{"d", identifier}},
		Content:   content,
	}
	if err := event.Sign(secretKey); err != nil {
		test.Fatalf("sign failed: %v", err)
	}
	return event
}

func addressFilter(test *testing.T, secretKey string, identifier string) nostr.Filter {
	test.Helper()
	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		test.Fatalf("derive failed: %v", err)
	}
	return nostr.Filter{Kinds: []int{kindAppData}, Authors: []string{publicKey}, Tags: nostr.TagMap{"d": {identifier}}, Limit: 1}
}

func TestQueryLatestEmpty(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	_, err := store.QueryLatest(context.Background(), addressFilter(test, nostr.GeneratePrivateKey(), ledgerAddress))
	if !errors.Is(err, eventstore.ErrNotFound) {
		test.Fatalf(errorMismatch, eventstore.ErrNotFound, err)
	}
}

func TestPublishReplacesOlderVersion(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	secretKey := nostr.GeneratePrivateKey()

	first := signedEvent(test, secretKey, ledgerAddress, 100, contentVersion+"-1")
	second := signedEvent(test, secretKey, ledgerAddress, 200, contentVersion+"-2")
	other := signedEvent(test, secretKey, otherAddress, 300, "other")
	for _, event := range []nostr.Event{first, second, other} {
		if err := store.Publish(context.Background(), event); err != nil {
			test.Fatalf("publish failed: %v", err)
		}
	}

	latest, err := store.QueryLatest(context.Background(), addressFilter(test, secretKey, ledgerAddress))
	if err != nil {
		test.Fatalf("query failed: %v", err)
	}
	if latest.ID != second.ID || latest.Content != second.Content || latest.Tags.GetD() != ledgerAddress {
		test.Fatalf("expected second version, got %+v", latest)
	}
	if err := eventstore.VerifySignature(*latest); err != nil {
		test.Fatalf("stored event must round-trip with a valid signature: %v", err)
	}

	var rows int64
	if err := store.db.Model(&Event{}).Count(&rows).Error; err != nil {
		test.Fatalf("count failed: %v", err)
	}
	if rows != 2 {
		test.Fatalf("expected one row per address, got %d", rows)
	}
}

func TestPublishRejectsStaleVersion(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	secretKey := nostr.GeneratePrivateKey()
	if err := store.Publish(context.Background(), signedEvent(test, secretKey, ledgerAddress, 200, "new")); err != nil {
		test.Fatalf("publish failed: %v", err)
	}
	err := store.Publish(context.Background(), signedEvent(test, secretKey, ledgerAddress, 100, "old"))
	if !errors.Is(err, eventstore.ErrRejected) {
		test.Fatalf(errorMismatch, eventstore.ErrRejected, err)
	}
	latest, err := store.QueryLatest(context.Background(), addressFilter(test, secretKey, ledgerAddress))
	if err != nil || latest.Content != "new" {
		test.Fatalf("expected newest content to survive, got %+v (%v)", latest, err)
	}
}

func TestPublishRejectsInvalidEvents(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	secretKey := nostr.GeneratePrivateKey()

	tampered := signedEvent(test, secretKey, ledgerAddress, 100, "original")
	tampered.Content = "tampered"
	if err := store.Publish(context.Background(), tampered); !errors.Is(err, eventstore.ErrInvalidSignature) {
		test.Fatalf(errorMismatch, eventstore.ErrInvalidSignature, err)
	}

	note := nostr.Event{Kind: 1, CreatedAt: nostr.Timestamp(100), Tags: nostr.Tags{}, Content: "note"}
	if err := note.Sign(secretKey); err != nil {
		test.Fatalf("sign failed: %v", err)
	}
	if err := store.Publish(context.Background(), note); !errors.Is(err, eventstore.ErrRejected) {
		test.Fatalf(errorMismatch, eventstore.ErrRejected, err)
	}
}

func TestQueryLatestFiltersByAuthor(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	owner := nostr.GeneratePrivateKey()
	stranger := nostr.GeneratePrivateKey()
	if err := store.Publish(context.Background(), signedEvent(test, stranger, ledgerAddress, 500, "foreign")); err != nil {
		test.Fatalf("publish failed: %v", err)
	}
	if _, err := store.QueryLatest(context.Background(), addressFilter(test, owner, ledgerAddress)); !errors.Is(err, eventstore.ErrNotFound) {
		test.Fatalf(errorMismatch, eventstore.ErrNotFound, err)
	}
}

func TestPaidLedgerOverGormStore(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	serviceIdentity, err := identity.New(nostr.GeneratePrivateKey(), "")
	if err != nil {
		test.Fatalf("identity init failed: %v", err)
	}
	ledger, err := paidledger.New(store, serviceIdentity, serviceIdentity, "")
	if err != nil {
		test.Fatalf("ledger init failed: %v", err)
	}
	if _, _, err := ledger.Initialize(context.Background()); err != nil {
		test.Fatalf("initialize failed: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		snapshot, err := ledger.Load(context.Background())
		if err != nil {
			test.Fatalf("load failed: %v", err)
		}
		username, _ := reward.NewUsername(name)
		if err := ledger.Commit(context.Background(), snapshot, username); err != nil {
			test.Fatalf("commit failed: %v", err)
		}
	}
	snapshot, err := ledger.Load(context.Background())
	if err != nil {
		test.Fatalf("load failed: %v", err)
	}
	if snapshot.Len() != 2 {
		test.Fatalf("expected two rewarded usernames, got %v", snapshot.Usernames())
	}
}

package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
)

func TestDialectorSelectsDriver(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		databaseURL string
		expected    string
	}{
		{databaseURL: "postgres://user@localhost/gitsats", expected: "postgres"},
		{databaseURL: "postgresql://user@localhost/gitsats", expected: "postgres"},
		{databaseURL: "sqlite:///var/lib/gitsats/events.db", expected: "sqlite"},
	}
	for _, testCase := range testCases {
		dialector, err := Dialector(testCase.databaseURL)
		if err != nil {
			test.Fatalf("%s: unexpected error %v", testCase.databaseURL, err)
		}
		if dialector.Name() != testCase.expected {
			test.Fatalf("%s: expected %s, got %s", testCase.databaseURL, testCase.expected, dialector.Name())
		}
	}
}

func TestDialectorRejectsUnusableURLs(test *testing.T) {
	test.Parallel()
	for _, databaseURL := range []string{"", "  ", "mysql://root@localhost/gitsats", "sqlite://", "gitsats.db"} {
		if _, err := Dialector(databaseURL); !errors.Is(err, reward.ErrInvalidConfig) {
			test.Fatalf("%q: expected %v, got %v", databaseURL, reward.ErrInvalidConfig, err)
		}
	}
}

func TestOpenMigratesEventsTable(test *testing.T) {
	test.Parallel()
	store, closeStore, err := Open("sqlite://" + test.TempDir() + "/events.db")
	if err != nil {
		test.Fatalf("open failed: %v", err)
	}
	defer func() { _ = closeStore() }()

	secretKey := nostr.GeneratePrivateKey()
	if _, err := store.QueryLatest(context.Background(), addressFilter(test, secretKey, ledgerAddress)); !errors.Is(err, eventstore.ErrNotFound) {
		test.Fatalf(errorMismatch, eventstore.ErrNotFound, err)
	}
	if err := store.Publish(context.Background(), signedEvent(test, secretKey, ledgerAddress, 100, "first")); err != nil {
		test.Fatalf("publish failed: %v", err)
	}
}

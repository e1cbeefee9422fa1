package relaystore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
)

const (
	relayOne   = "wss://one.example"
	relayTwo   = "wss://two.example"
	relayThree = "wss://three.example"
)

var errDial = errors.New("dial failed")

type fakeConn struct {
	events     []*nostr.Event
	queryErr   error
	publishErr error
	published  []nostr.Event
	stall      bool
	closed     int
}

func (conn *fakeConn) QuerySync(ctx context.Context, _ nostr.Filter) ([]*nostr.Event, error) {
	if conn.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return conn.events, conn.queryErr
}

func (conn *fakeConn) Publish(_ context.Context, event nostr.Event) error {
	if conn.publishErr != nil {
		return conn.publishErr
	}
	conn.published = append(conn.published, event)
	return nil
}

func (conn *fakeConn) Close() error {
	conn.closed++
	return nil
}

type fakeNetwork struct {
	mutex sync.Mutex
	conns map[string]*fakeConn
}

func (network *fakeNetwork) dial(_ context.Context, url string) (Conn, error) {
	network.mutex.Lock()
	defer network.mutex.Unlock()
	conn, ok := network.conns[url]
	if !ok {
		return nil, errDial
	}
	return conn, nil
}

func signed(test *testing.T, secretKey string, createdAt int64, content string) *nostr.Event {
	test.Helper()
	event := nostr.Event{Kind: 30078, CreatedAt: nostr.Timestamp(createdAt), Tags: nostr.Tags{{"d", "ledger"}}, Content: content}
	if err := event.Sign(secretKey); err != nil {
		test.Fatalf("sign failed: %v", err)
	}
	return &event
}

func ledgerFilter(test *testing.T, secretKey string) nostr.Filter {
	test.Helper()
	publicKey, _ := nostr.GetPublicKey(secretKey)
	return nostr.Filter{Kinds: []int{30078}, Authors: []string{publicKey}, Tags: nostr.TagMap{"d": {"ledger"}}, Limit: 1}
}

func TestQueryLatestPicksNewestAcrossRelays(test *testing.T) {
	test.Parallel()
	secretKey := nostr.GeneratePrivateKey()
	older := signed(test, secretKey, 100, "older")
	newer := signed(test, secretKey, 200, "newer")
	forged := signed(test, secretKey, 300, "forged")
	forged.Content = "tampered"

	network := &fakeNetwork{conns: map[string]*fakeConn{
		relayOne:   {events: []*nostr.Event{older}},
		relayTwo:   {events: []*nostr.Event{newer, forged}},
		relayThree: {queryErr: errors.New("timeout")},
	}}
	store, err := New([]string{relayOne, relayTwo, relayThree}, WithDialer(network.dial))
	if err != nil {
		test.Fatalf("store init failed: %v", err)
	}
	latest, err := store.QueryLatest(context.Background(), ledgerFilter(test, secretKey))
	if err != nil {
		test.Fatalf("query failed: %v", err)
	}
	if latest.Content != "newer" {
		test.Fatalf("expected newest valid event, got %q", latest.Content)
	}
	for url, conn := range network.conns {
		if conn.closed != 1 {
			test.Fatalf("expected %s to be closed once, got %d", url, conn.closed)
		}
	}
}

func TestQueryLatestDistinguishesNotFoundFromUnavailable(test *testing.T) {
	test.Parallel()
	secretKey := nostr.GeneratePrivateKey()

	emptyNetwork := &fakeNetwork{conns: map[string]*fakeConn{relayOne: {}}}
	store, _ := New([]string{relayOne, relayTwo}, WithDialer(emptyNetwork.dial))
	if _, err := store.QueryLatest(context.Background(), ledgerFilter(test, secretKey)); !errors.Is(err, eventstore.ErrNotFound) {
		test.Fatalf("expected %v, got %v", eventstore.ErrNotFound, err)
	}

	deadNetwork := &fakeNetwork{conns: map[string]*fakeConn{}}
	store, _ = New([]string{relayOne, relayTwo}, WithDialer(deadNetwork.dial))
	_, err := store.QueryLatest(context.Background(), ledgerFilter(test, secretKey))
	if !errors.Is(err, eventstore.ErrUnavailable) || !errors.Is(err, errDial) {
		test.Fatalf("expected %v, got %v", eventstore.ErrUnavailable, err)
	}
}

func TestPublishSucceedsWhenAnyRelayAccepts(test *testing.T) {
	test.Parallel()
	secretKey := nostr.GeneratePrivateKey()
	event := signed(test, secretKey, 100, "payload")
	network := &fakeNetwork{conns: map[string]*fakeConn{
		relayOne: {publishErr: errors.New("blocked")},
		relayTwo: {},
	}}
	store, _ := New([]string{relayOne, relayTwo, relayThree}, WithDialer(network.dial))
	if err := store.Publish(context.Background(), *event); err != nil {
		test.Fatalf("publish failed: %v", err)
	}
	if len(network.conns[relayTwo].published) != 1 {
		test.Fatalf("expected relay two to receive the event")
	}
}

func TestPublishFailsWhenAllRelaysReject(test *testing.T) {
	test.Parallel()
	event := signed(test, nostr.GeneratePrivateKey(), 100, "payload")
	network := &fakeNetwork{conns: map[string]*fakeConn{relayOne: {publishErr: errors.New("blocked")}}}
	store, _ := New([]string{relayOne, relayTwo}, WithDialer(network.dial))
	if err := store.Publish(context.Background(), *event); !errors.Is(err, eventstore.ErrRejected) {
		test.Fatalf("expected %v, got %v", eventstore.ErrRejected, err)
	}
}

func TestNewRequiresRelays(test *testing.T) {
	test.Parallel()
	if _, err := New([]string{" ", ""}); !errors.Is(err, reward.ErrInvalidConfig) {
		test.Fatalf("expected %v, got %v", reward.ErrInvalidConfig, err)
	}
	normalized := NormalizeURLs([]string{"wss://nos.lol/", " wss://nos.lol ", "wss://relay.damus.io"})
	if len(normalized) != 2 {
		test.Fatalf("expected duplicates to collapse, got %v", normalized)
	}
}

func TestQueryLatestDoesNotWaitOnStalledRelay(test *testing.T) {
	test.Parallel()
	secretKey := nostr.GeneratePrivateKey()
	network := &fakeNetwork{conns: map[string]*fakeConn{
		relayOne: {events: []*nostr.Event{signed(test, secretKey, 100, "answered")}},
		relayTwo: {stall: true},
	}}
	store, err := New([]string{relayOne, relayTwo}, WithDialer(network.dial), WithRelayTimeout(20*time.Millisecond))
	if err != nil {
		test.Fatalf("store init failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	latest, err := store.QueryLatest(ctx, ledgerFilter(test, secretKey))
	if err != nil {
		test.Fatalf("query failed: %v", err)
	}
	if latest.Content != "answered" {
		test.Fatalf("expected the answering relay's event, got %q", latest.Content)
	}
	if ctx.Err() != nil {
		test.Fatalf("a stalled relay must not consume the caller deadline")
	}
}

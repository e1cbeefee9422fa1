// Package relaystore reads and writes events on a set of Nostr relays. Every
// call dials its relays and closes them before returning.
package relaystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

// DefaultRelays is the relay set used when none is configured.
var DefaultRelays = []string{
	"wss://relay.getalby.com",
	"wss://nos.lol",
	"wss://relay.nostr.band",
	"wss://relay.damus.io",
}

// DefaultRelayTimeout bounds each relay's part of a query or publish.
const DefaultRelayTimeout = 10 * time.Second

// Conn is the subset of a relay connection the store uses.
type Conn interface {
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Publish(ctx context.Context, event nostr.Event) error
	Close() error
}

// Dialer opens a relay connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Option configures a Store.
type Option func(*Store)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(store *Store) {
		if dial != nil {
			store.dial = dial
		}
	}
}

// WithRelayTimeout bounds the time spent on a single relay per call.
func WithRelayTimeout(timeout time.Duration) Option {
	return func(store *Store) {
		if timeout > 0 {
			store.relayTimeout = timeout
		}
	}
}

// Store implements eventstore.Store over relays.
type Store struct {
	urls         []string
	dial         Dialer
	relayTimeout time.Duration
}

// New returns a Store for urls. Blank and duplicate urls are dropped.
func New(urls []string, options ...Option) (*Store, error) {
	normalized := NormalizeURLs(urls)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one relay is required", reward.ErrInvalidConfig)
	}
	store := &Store{urls: normalized, dial: DialRelay, relayTimeout: DefaultRelayTimeout}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store, nil
}

// URLs returns the configured relay urls.
func (store *Store) URLs() []string {
	return append([]string(nil), store.urls...)
}

// QueryLatest asks every relay and returns the newest valid matching event.
// Relay failures are tolerated as long as one relay answers.
func (store *Store) QueryLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	var (
		mutex     sync.Mutex
		found     []*nostr.Event
		relayErrs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, url := range store.urls {
		url := url
		group.Go(func() error {
			events, err := store.query(groupCtx, url, filter)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				relayErrs = append(relayErrs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			found = append(found, events...)
			return nil
		})
	}
	_ = group.Wait()

	if latest := eventstore.Latest(found); latest != nil {
		return latest, nil
	}
	if len(relayErrs) == len(store.urls) {
		return nil, fmt.Errorf("%w: %w", eventstore.ErrUnavailable, errors.Join(relayErrs...))
	}
	return nil, eventstore.ErrNotFound
}

// Publish sends event to every relay and succeeds when at least one accepts it.
func (store *Store) Publish(ctx context.Context, event nostr.Event) error {
	var (
		mutex     sync.Mutex
		accepted  int
		relayErrs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, url := range store.urls {
		url := url
		group.Go(func() error {
			err := store.publish(groupCtx, url, event)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				relayErrs = append(relayErrs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			accepted++
			return nil
		})
	}
	_ = group.Wait()

	if accepted > 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", eventstore.ErrRejected, errors.Join(relayErrs...))
}

func (store *Store) query(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, store.relayTimeout)
	defer cancel()
	conn, err := store.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	events, err := conn.QuerySync(ctx, filter)
	if err != nil {
		return nil, err
	}
	valid := make([]*nostr.Event, 0, len(events))
	for _, event := range events {
		if event == nil || !filter.Matches(event) {
			continue
		}
		if eventstore.VerifySignature(*event) != nil {
			continue
		}
		valid = append(valid, event)
	}
	return valid, nil
}

func (store *Store) publish(ctx context.Context, url string, event nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, store.relayTimeout)
	defer cancel()
	conn, err := store.dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Publish(ctx, event)
}

// NormalizeURLs trims relay urls, applies nostr.NormalizeURL and drops duplicates.
func NormalizeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	normalized := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimRight(strings.TrimSpace(raw), "/")
		if url == "" {
			continue
		}
		url = nostr.NormalizeURL(url)
		if _, exists := seen[url]; exists {
			continue
		}
		seen[url] = struct{}{}
		normalized = append(normalized, url)
	}
	return normalized
}

// DialRelay connects to a relay over websocket.
func DialRelay(ctx context.Context, url string) (Conn, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return relayConn{relay: relay}, nil
}

type relayConn struct {
	relay *nostr.Relay
}

func (conn relayConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return conn.relay.QuerySync(ctx, filter)
}

func (conn relayConn) Publish(ctx context.Context, event nostr.Event) error {
	return conn.relay.Publish(ctx, event)
}

func (conn relayConn) Close() error {
	return conn.relay.Close()
}

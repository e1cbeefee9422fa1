package nwc

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// DialRelay opens a websocket Session on relayURL.
func DialRelay(ctx context.Context, relayURL string) (Session, error) {
	relay, err := nostr.RelayConnect(ctx, relayURL)
	if err != nil {
		return nil, err
	}
	return &relaySession{relay: relay}, nil
}

type relaySession struct {
	relay *nostr.Relay
}

func (session *relaySession) Roundtrip(ctx context.Context, request nostr.Event, response nostr.Filter) (*nostr.Event, error) {
	subscription, err := session.relay.Subscribe(ctx, nostr.Filters{response})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrNotDelivered, err)
	}
	defer subscription.Unsub()

	if err := session.relay.Publish(ctx, request); err != nil {
		return nil, fmt.Errorf("%w: publish: %v", ErrNotDelivered, err)
	}
	select {
	case event, ok := <-subscription.Events:
		if !ok || event == nil {
			return nil, ErrNoResponse
		}
		return event, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, ctx.Err())
	}
}

func (session *relaySession) Close() error {
	return session.relay.Close()
}

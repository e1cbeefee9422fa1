// Package eventstore defines the durable record contract shared by the relay
// and SQL backends: signed Nostr events, addressed by filter, latest wins.
package eventstore

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

var (
	ErrNotFound         = errors.New("event not found")
	ErrRejected         = errors.New("event rejected")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrUnavailable      = errors.New("event store unavailable")
)

// Store fetches and publishes signed events.
type Store interface {
	// QueryLatest returns the newest event matching filter, or ErrNotFound.
	QueryLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error)
	// Publish stores event, superseding older versions of the same replaceable address.
	Publish(ctx context.Context, event nostr.Event) error
}

// Newer reports whether candidate supersedes current: later created_at wins,
// ties go to the lexically lower id.
func Newer(candidate *nostr.Event, current *nostr.Event) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	if candidate.CreatedAt != current.CreatedAt {
		return candidate.CreatedAt > current.CreatedAt
	}
	return candidate.ID < current.ID
}

// Latest picks the authoritative event out of events.
func Latest(events []*nostr.Event) *nostr.Event {
	var latest *nostr.Event
	for _, event := range events {
		if Newer(event, latest) {
			latest = event
		}
	}
	return latest
}

// VerifySignature checks the event id and signature.
func VerifySignature(event nostr.Event) error {
	if event.ID != event.GetID() {
		return ErrInvalidSignature
	}
	valid, err := event.CheckSignature()
	if err != nil || !valid {
		return ErrInvalidSignature
	}
	return nil
}

// IsReplaceable reports whether kind is a parameterized replaceable kind (30000-39999).
func IsReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

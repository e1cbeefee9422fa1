package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nbd-wtf/go-nostr"
)

const (
	tagIdentifier       = "d"
	errorOperationStore = "store"
	errorSubjectEvent   = "event"
	errorSubjectSchema  = "schema"
	errorCodeCreate     = "create"
	errorCodeDecode     = "decode"
	errorCodeInvalid    = "invalid"
	errorCodeQuery      = "query"
	errorCodeRejected   = "rejected"
	errorCodeUpsert     = "upsert"

	sqlCreateEvents = `
		create table if not exists events (
			row_id uuid primary key default gen_random_uuid(),
			event_id text not null,
			pub_key text not null,
			kind integer not null,
			d_tag text not null,
			tags jsonb not null,
			content text not null,
			sig text not null,
			created_at_unix bigint not null,
			stored_at timestamptz not null default now(),
			constraint uniq_events_event_id unique (event_id),
			constraint uniq_events_address unique (pub_key, kind, d_tag)
		)
	`

	// The upsert only replaces a row with a strictly newer version (or an equal
	// timestamp and lower id). A stale write matches no row and returns nothing.
	sqlUpsertEvent = `
		insert into events(event_id, pub_key, kind, d_tag, tags, content, sig, created_at_unix)
		values($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
		on conflict (pub_key, kind, d_tag) do update set
			event_id = excluded.event_id,
			tags = excluded.tags,
			content = excluded.content,
			sig = excluded.sig,
			created_at_unix = excluded.created_at_unix,
			stored_at = now()
		where events.created_at_unix < excluded.created_at_unix
			or (events.created_at_unix = excluded.created_at_unix and events.event_id > excluded.event_id)
		returning event_id
	`

	sqlSelectLatest = `
		select event_id, pub_key, kind, tags::text, content, sig, created_at_unix
		from events
		where ($1::int[] is null or kind = any($1))
			and ($2::text[] is null or pub_key = any($2))
			and ($3::text[] is null or d_tag = any($3))
		order by created_at_unix desc, event_id asc
		limit 1
	`
)

// Store implements eventstore.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the events table when missing.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateEvents); err != nil {
		return reward.WrapError(errorOperationStore, errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) QueryLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	kinds, authors, identifiers := filterArguments(filter)
	var (
		event     nostr.Event
		rawTags   string
		createdAt int64
	)
	err := store.pool.QueryRow(ctx, sqlSelectLatest, kinds, authors, identifiers).
		Scan(&event.ID, &event.PubKey, &event.Kind, &rawTags, &event.Content, &event.Sig, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eventstore.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreError(errorCodeQuery, fmt.Errorf("%w: %w", eventstore.ErrUnavailable, err))
	}
	if err := json.Unmarshal([]byte(rawTags), &event.Tags); err != nil {
		return nil, wrapStoreError(errorCodeDecode, err)
	}
	event.CreatedAt = nostr.Timestamp(createdAt)
	return &event, nil
}

func (store *Store) Publish(ctx context.Context, event nostr.Event) error {
	if err := eventstore.VerifySignature(event); err != nil {
		return wrapStoreError(errorCodeInvalid, err)
	}
	if !eventstore.IsReplaceable(event.Kind) {
		return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: kind %d is not replaceable", eventstore.ErrRejected, event.Kind))
	}
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return wrapStoreError(errorCodeInvalid, err)
	}
	var storedID string
	err = store.pool.QueryRow(ctx, sqlUpsertEvent,
		event.ID, event.PubKey, event.Kind, event.Tags.GetD(), string(tags), event.Content, event.Sig, int64(event.CreatedAt),
	).Scan(&storedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: superseded by a newer version", eventstore.ErrRejected))
	}
	if err != nil {
		return wrapStoreError(errorCodeUpsert, err)
	}
	return nil
}

func wrapStoreError(code string, err error) error {
	return reward.WrapError(errorOperationStore, errorSubjectEvent, code, err)
}

// filterArguments converts filter fields into nullable array arguments.
func filterArguments(filter nostr.Filter) ([]int32, []string, []string) {
	var kinds []int32
	for _, kind := range filter.Kinds {
		kinds = append(kinds, int32(kind))
	}
	var authors []string
	if len(filter.Authors) > 0 {
		authors = filter.Authors
	}
	var identifiers []string
	if values := filter.Tags[tagIdentifier]; len(values) > 0 {
		identifiers = values
	}
	return kinds, authors, identifiers
}

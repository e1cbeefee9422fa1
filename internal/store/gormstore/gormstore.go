package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nbd-wtf/go-nostr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintEventAddress = "uniq_events_address"
	constraintEventID      = "uniq_events_event_id"
	pgUniqueViolationCode  = "23505"
	sqliteConstraintCode   = 19
	tagIdentifier          = "d"
	errorOperationStore    = "store"
	errorSubjectEvent      = "event"
	errorCodeDecode        = "decode"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeLookup        = "lookup"
	errorCodeQuery         = "query"
	errorCodeRejected      = "rejected"
	errorCodeUpdate        = "update"
)

// Store implements eventstore.Store using GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates or updates the events table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{})
}

// QueryLatest returns the newest stored event matching filter's kinds, authors and d tags.
func (store *Store) QueryLatest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	query := store.db.WithContext(ctx).Model(&Event{})
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if len(filter.Authors) > 0 {
		query = query.Where("pub_key IN ?", filter.Authors)
	}
	if identifiers := filter.Tags[tagIdentifier]; len(identifiers) > 0 {
		query = query.Where("d_tag IN ?", identifiers)
	}
	if filter.Since != nil {
		query = query.Where("created_at_unix >= ?", int64(*filter.Since))
	}
	if filter.Until != nil {
		query = query.Where("created_at_unix <= ?", int64(*filter.Until))
	}
	var row Event
	err := query.Order("created_at_unix desc").Order("event_id asc").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eventstore.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreError(errorCodeQuery, fmt.Errorf("%w: %w", eventstore.ErrUnavailable, err))
	}
	event, err := mapEvent(row)
	if err != nil {
		return nil, wrapStoreError(errorCodeDecode, err)
	}
	return &event, nil
}

// Publish verifies event and stores it unless a newer version of the same address exists.
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
	candidate := Event{
		EventID:       event.ID,
		PubKey:        event.PubKey,
		Kind:          event.Kind,
		DTag:          event.Tags.GetD(),
		Tags:          datatypes.JSON(tags),
		Content:       event.Content,
		Sig:           event.Sig,
		CreatedAtUnix: int64(event.CreatedAt),
		StoredAt:      store.now().UTC(),
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var current Event
		err := transaction.
			Where("pub_key = ? AND kind = ? AND d_tag = ?", candidate.PubKey, candidate.Kind, candidate.DTag).
			Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if createErr := transaction.Create(&candidate).Error; createErr != nil {
				if isAddressConflict(createErr) {
					return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: concurrent publish", eventstore.ErrRejected))
				}
				return wrapStoreError(errorCodeInsert, createErr)
			}
			return nil
		}
		if err != nil {
			return wrapStoreError(errorCodeLookup, err)
		}
		currentEvent := nostr.Event{ID: current.EventID, CreatedAt: nostr.Timestamp(current.CreatedAtUnix)}
		if !eventstore.Newer(&event, &currentEvent) {
			return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: superseded by %s", eventstore.ErrRejected, current.EventID))
		}
		result := transaction.Model(&Event{}).
			Where("row_id = ? AND event_id = ?", current.RowID, current.EventID).
			Updates(map[string]any{
				"event_id":        candidate.EventID,
				"tags":            candidate.Tags,
				"content":         candidate.Content,
				"sig":             candidate.Sig,
				"created_at_unix": candidate.CreatedAtUnix,
				"stored_at":       candidate.StoredAt,
			})
		if result.Error != nil {
			if isAddressConflict(result.Error) {
				return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: duplicate event", eventstore.ErrRejected))
			}
			return wrapStoreError(errorCodeUpdate, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorCodeRejected, fmt.Errorf("%w: concurrent publish", eventstore.ErrRejected))
		}
		return nil
	})
}

func wrapStoreError(code string, err error) error {
	return reward.WrapError(errorOperationStore, errorSubjectEvent, code, err)
}

func mapEvent(row Event) (nostr.Event, error) {
	var tags nostr.Tags
	if err := json.Unmarshal(row.Tags, &tags); err != nil {
		return nostr.Event{}, err
	}
	return nostr.Event{
		ID:        row.EventID,
		PubKey:    row.PubKey,
		CreatedAt: nostr.Timestamp(row.CreatedAtUnix),
		Kind:      row.Kind,
		Tags:      tags,
		Content:   row.Content,
		Sig:       row.Sig,
	}, nil
}

func isAddressConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (pgErr.ConstraintName == constraintEventAddress || pgErr.ConstraintName == constraintEventID)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

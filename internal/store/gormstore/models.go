package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event mirrors the events table. One row per replaceable address
// (pub_key, kind, d_tag); a newer version overwrites the row in place.
type Event struct {
	RowID         string         `gorm:"type:uuid;primaryKey"`
	EventID       string         `gorm:"not null;uniqueIndex:uniq_events_event_id"`
	PubKey        string         `gorm:"not null;index:uniq_events_address,unique,priority:1"`
	Kind          int            `gorm:"not null;index:uniq_events_address,unique,priority:2"`
	DTag          string         `gorm:"column:d_tag;not null;index:uniq_events_address,unique,priority:3"`
	Tags          datatypes.JSON `gorm:"type:jsonb;not null"`
	Content       string         `gorm:"type:text;not null"`
	Sig           string         `gorm:"not null"`
	CreatedAtUnix int64          `gorm:"not null"`
	StoredAt      time.Time      `gorm:"not null"`
}

func (Event) TableName() string { return "events" }

func (event *Event) BeforeCreate(tx *gorm.DB) error {
	if event.RowID == "" {
		event.RowID = uuid.NewString()
	}
	return nil
}

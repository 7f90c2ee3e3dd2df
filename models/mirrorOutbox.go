package models

import (
	"encoding/json"
	"time"
)

// MirrorTimeLayout is how mirror timestamps are written to the sheet.
const MirrorTimeLayout = "2006-01-02 15:04:05"

// MirrorRow is the payload of one spreadsheet append.
type MirrorRow struct {
	LogID         int       `json:"log_id"`
	CheckedInAt   time.Time `json:"checked_in_at"`
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Type          EventType `json:"type"`
	Scanner       string    `json:"scanner"`
	CorrelationId string    `json:"correlation_id,omitempty"`
}

// Values renders the sheet columns: timestamp in loc, id, name, type, scanner, "SUCCESS".
func (r MirrorRow) Values(loc *time.Location) []interface{} {
	if loc == nil {
		loc = time.UTC
	}
	scanner := r.Scanner
	if scanner == "" {
		scanner = DefaultScanner
	}
	return []interface{}{
		r.CheckedInAt.In(loc).Format(MirrorTimeLayout),
		r.ParticipantID,
		r.Name,
		string(r.Type),
		scanner,
		MirrorRowStatusSuccess,
	}
}

// MirrorOutboxRecord is written in the same transaction as the log entry and drained after commit.
type MirrorOutboxRecord struct {
	ID            int       `gorm:"primary_key;index:idx_mirror_dispatch,priority:3" json:"id"`
	LogID         int       `gorm:"not null;uniqueIndex" json:"log_id"`
	ParticipantID string    `gorm:"size:128;not null;index" json:"participant_id"`
	Payload       string    `gorm:"type:text;not null" json:"payload"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index:idx_mirror_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_mirror_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
}

func (MirrorOutboxRecord) TableName() string { return "mirror_outbox" }

func NewMirrorOutboxRecord(row MirrorRow) (*MirrorOutboxRecord, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return &MirrorOutboxRecord{
		LogID:         row.LogID,
		ParticipantID: row.ParticipantID,
		Payload:       string(payload),
		CorrelationId: row.CorrelationId,
		PublishStatus: OutboxPublishStatusPending,
	}, nil
}

func (r MirrorOutboxRecord) Row() (MirrorRow, error) {
	var row MirrorRow
	err := json.Unmarshal([]byte(r.Payload), &row)
	return row, err
}

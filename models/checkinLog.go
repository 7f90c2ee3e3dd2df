package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultScanner        = "unknown"
	ReconciliationScanner = "reconciliation"

	// MaxScannerLen matches the size of logs.scanner.
	MaxScannerLen = 128
)

// Metadata is the free-form JSON object stored with each log entry. A nil map is stored as {}.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", value)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// CheckinLog is one append-only row per successful check-in. Flags only flip once, so
// (participant_id, type) is unique.
type CheckinLog struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ParticipantID string    `gorm:"size:128;not null;uniqueIndex:idx_logs_participant_type,priority:1" json:"participant_id"`
	Type          EventType `gorm:"size:20;not null;uniqueIndex:idx_logs_participant_type,priority:2" json:"type"`
	Scanner       string    `gorm:"size:128;not null;default:'unknown'" json:"scanner"`
	Metadata      Metadata  `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CheckinLog) TableName() string { return "logs" }

// NewCheckinLog builds the row for a successful check-in, defaulting the scanner identity
// and cutting it to MaxScannerLen characters.
func NewCheckinLog(participantID string, e EventType, scanner string) *CheckinLog {
	if scanner == "" {
		scanner = DefaultScanner
	}
	if r := []rune(scanner); len(r) > MaxScannerLen {
		scanner = string(r[:MaxScannerLen])
	}
	return &CheckinLog{
		ParticipantID: participantID,
		Type:          e,
		Scanner:       scanner,
		Metadata:      Metadata{},
	}
}

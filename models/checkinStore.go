package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckinStore is the gorm-backed participant and log store.
type CheckinStore struct {
	DB       *gorm.DB
	CacheTTL time.Duration
}

func NewCheckinStore(db *gorm.DB, cacheTTL time.Duration) *CheckinStore {
	return &CheckinStore{DB: db, CacheTTL: cacheTTL}
}

func (s *CheckinStore) db(ctx context.Context) *gorm.DB {
	if s.DB != nil {
		return s.DB.WithContext(ctx)
	}
	return config.GetDB().WithContext(ctx)
}

// FindParticipant reads straight from the database. Returns ErrParticipantNotFound when no row matches.
func (s *CheckinStore) FindParticipant(ctx context.Context, id string) (*Participant, error) {
	var p Participant
	err := s.db(ctx).Where("id = ?", id).Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("find participant %s: %w", id, err)
	}
	return &p, nil
}

// GetParticipant is the read-through cached lookup used by read-only pages.
func (s *CheckinStore) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	if !config.ParticipantCacheEnabled() || s.CacheTTL <= 0 {
		return s.FindParticipant(ctx, id)
	}
	var cached Participant
	exists, err := config.GetRedisObject(participantCacheKey(id), &cached)
	if err == nil && exists {
		return &cached, nil
	}
	p, err := s.FindParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	if cacheErr := config.SetRedisObject(participantCacheKey(id), p, s.CacheTTL); cacheErr != nil {
		config.LogError(config.GetLogger(), "checkinStore.go", "GetParticipant", "SetRedisObject", id, cacheErr)
	}
	return p, nil
}

// MarkEvent sets the flag only if it is still false. It reports whether this call flipped it.
func (s *CheckinStore) MarkEvent(ctx context.Context, id string, e EventType) (bool, error) {
	col := e.Column()
	if col == "" {
		return false, ErrUnknownEventType
	}
	res := s.db(ctx).Model(&Participant{}).
		Where("id = ?", id).
		Where(clause.Eq{Column: clause.Column{Name: col}, Value: false}).
		Update(col, true)
	if res.Error != nil {
		return false, fmt.Errorf("mark %s for %s: %w", e, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := config.RemoveRedisKey(participantCacheKey(id)); err != nil {
		config.LogError(config.GetLogger(), "checkinStore.go", "MarkEvent", "RemoveRedisKey", id, err)
	}
	return true, nil
}

// RecordCheckin inserts the log entry and, when row is non-nil, its mirror outbox record in one transaction.
// Returns ErrCheckinLogged when the participant already has a log entry of that type.
func (s *CheckinStore) RecordCheckin(ctx context.Context, entry *CheckinLog, row *MirrorRow) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrCheckinLogged
			}
			return fmt.Errorf("insert log: %w", err)
		}
		if row == nil {
			return nil
		}
		row.LogID = entry.ID
		if row.CheckedInAt.IsZero() {
			row.CheckedInAt = entry.CreatedAt
		}
		rec, err := NewMirrorOutboxRecord(*row)
		if err != nil {
			return fmt.Errorf("encode mirror row: %w", err)
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert mirror outbox: %w", err)
		}
		return nil
	})
}

func (s *CheckinStore) ListParticipants(ctx context.Context) ([]Participant, error) {
	var out []Participant
	if err := s.db(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

// ListLogs returns log entries oldest first. limit <= 0 means no limit.
func (s *CheckinStore) ListLogs(ctx context.Context, limit int) ([]CheckinLog, error) {
	var out []CheckinLog
	q := s.db(ctx).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return out, nil
}

// FindUnloggedCheckins lists participants whose flag for e is set but who have no log entry of that type.
func (s *CheckinStore) FindUnloggedCheckins(ctx context.Context, e EventType, limit int) ([]Participant, error) {
	col := e.Column()
	if col == "" {
		return nil, ErrUnknownEventType
	}
	var out []Participant
	q := s.db(ctx).
		Where(clause.Eq{Column: clause.Column{Name: col}, Value: true}).
		Where("NOT EXISTS (SELECT 1 FROM logs WHERE logs.participant_id = participants.id AND logs.type = ?)", string(e)).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find unlogged %s check-ins: %w", e, err)
	}
	return out, nil
}

// UpsertParticipant creates the participant or refreshes its contact fields. Flags are never touched.
func (s *CheckinStore) UpsertParticipant(ctx context.Context, p *Participant) error {
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "team"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert participant %s: %w", p.ID, err)
	}
	if err := config.RemoveRedisKey(participantCacheKey(p.ID)); err != nil {
		config.LogError(config.GetLogger(), "checkinStore.go", "UpsertParticipant", "RemoveRedisKey", p.ID, err)
	}
	return nil
}

func participantCacheKey(id string) string {
	return "participant:" + id
}

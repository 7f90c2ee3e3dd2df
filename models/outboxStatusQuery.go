package models

import (
	"context"
	"errors"

	"github.com/repogenesis/qrcheckin/config"
	"gorm.io/gorm"
)

// GetMirrorOutboxStatus returns the mirror row queued for logID, or ErrMirrorRowNotFound.
func GetMirrorOutboxStatus(ctx context.Context, db *gorm.DB, logID int) (*MirrorOutboxStatus, error) {
	if db == nil {
		db = config.GetDB()
	}
	var rec MirrorOutboxRecord
	if err := db.WithContext(ctx).Where("log_id = ?", logID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMirrorRowNotFound
		}
		return nil, err
	}
	return newMirrorOutboxStatus(rec), nil
}

// ListMirrorOutbox returns the oldest rows in publishStatus, up to limit (default 50, max 500).
func ListMirrorOutbox(ctx context.Context, db *gorm.DB, publishStatus string, limit int) ([]*MirrorOutboxStatus, error) {
	if db == nil {
		db = config.GetDB()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var recs []MirrorOutboxRecord
	if err := db.WithContext(ctx).
		Where("publish_status = ?", publishStatus).
		Order("id ASC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*MirrorOutboxStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newMirrorOutboxStatus(rec))
	}
	return out, nil
}

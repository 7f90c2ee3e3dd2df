package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dispatcherLockKey = "lock:mirror-outbox"
	maxOutboxBackoff  = 10 * time.Minute
)

// OutboxDispatcher drains mirror_outbox rows after commit and hands them to a Publisher.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    Publisher
	Locker       *redislock.Client
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher Publisher, settings config.OutboxSettings) *OutboxDispatcher {
	if logger == nil {
		logger = config.GetLogger()
	}
	d := &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		Locker:         config.GetRedisLock(),
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
	if settings.BatchSize > 0 {
		d.BatchSize = settings.BatchSize
	}
	if settings.PollInterval > 0 {
		d.PollInterval = settings.PollInterval
	}
	if settings.MaxAttempts > 0 {
		d.MaxAttempts = settings.MaxAttempts
	}
	if settings.InitialBackoff > 0 {
		d.InitialBackoff = settings.InitialBackoff
	}
	return d
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many rows were published.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}

	// Redis lock keeps replicas from polling in lockstep; SKIP LOCKED below is what guarantees exclusivity.
	if locker := d.locker(); locker != nil {
		lock, err := locker.Obtain(ctx, dispatcherLockKey, d.LockTimeout, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			return 0
		case err != nil:
			d.Logger.WithFields(logrus.Fields{"field": "OutboxDispatcher"}).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
		default:
			defer func() { _ = lock.Release(context.Background()) }()
		}
	}

	now := time.Now().UTC()
	claimed, err := d.claim(ctx, now)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{"field": "OutboxDispatcher"}).Error("claim outbox batch: " + err.Error())
		return 0
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubID, pubErr := d.Publisher.Publish(ctx, rec)
		if pubErr != nil {
			outboxDispatchTotal.WithLabelValues("failed").Inc()
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		outboxDispatchTotal.WithLabelValues("sent").Inc()
		d.markPublishSent(ctx, rec.ID, pubID, time.Now().UTC())
		sent++
	}
	return sent
}

func (d *OutboxDispatcher) locker() *redislock.Client {
	if d.Locker != nil {
		return d.Locker
	}
	return config.GetRedisLock()
}

func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.MirrorOutboxRecord, error) {
	staleBefore := now.Add(-d.LockTimeout)
	var claimed []models.MirrorOutboxRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and due
		// - PROCESSING whose lock went stale (dispatcher died mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.MirrorOutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.MirrorOutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string, now time.Time) {
	updates := map[string]interface{}{
		"publish_status":  models.OutboxPublishStatusSent,
		"published_at":    &now,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
	if pubsubMsgID != "" {
		updates["pub_sub_message_id"] = &pubsubMsgID
	}
	if err := d.DB.WithContext(ctx).Model(&models.MirrorOutboxRecord{}).Where("id = ?", recordID).Updates(updates).Error; err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "markPublishSent", "Updates", recordID, err)
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.MirrorOutboxRecord, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	fields := logrus.Fields{
		"field":          "OutboxDispatcher",
		"record_id":      rec.ID,
		"participant_id": rec.ParticipantID,
		"attempt":        rec.PublishAttempts,
		"correlation_id": rec.CorrelationId,
	}

	// Terminal after MaxAttempts (DLQ equivalent).
	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		_ = db.Model(&models.MirrorOutboxRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		d.Logger.WithFields(fields).Error("mirror outbox row moved to DEAD after max attempts: " + msg)
		return
	}

	next := time.Now().UTC().Add(OutboxBackoff(d.InitialBackoff, rec.PublishAttempts))
	_ = db.Model(&models.MirrorOutboxRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	d.Logger.WithFields(fields).Error("mirror outbox publish failed: " + msg)
}

// OutboxBackoff is initial * 2^(attempt-1), capped at ten minutes.
func OutboxBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	if backoff > maxOutboxBackoff {
		return maxOutboxBackoff
	}
	return backoff
}

// RequeueMirrorRecord puts a FAILED or DEAD row back in line for immediate publishing with a fresh attempt budget.
func RequeueMirrorRecord(ctx context.Context, db *gorm.DB, recordID int) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&models.MirrorOutboxRecord{}).
		Where("id = ? AND publish_status IN ?", recordID, []string{models.OutboxPublishStatusFailed, models.OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

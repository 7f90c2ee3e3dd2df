package models

import "time"

// MirrorOutboxStatus is the ops-facing view of the mirror row queued for one log entry.
type MirrorOutboxStatus struct {
	RecordId         int        `json:"record_id"`
	LogID            int        `json:"log_id"`
	ParticipantID    string     `json:"participant_id"`
	PublishStatus    string     `json:"publish_status"`
	Delivered        bool       `json:"delivered"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CorrelationId    string     `json:"correlation_id"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
}

func newMirrorOutboxStatus(rec MirrorOutboxRecord) *MirrorOutboxStatus {
	return &MirrorOutboxStatus{
		RecordId:         rec.ID,
		LogID:            rec.LogID,
		ParticipantID:    rec.ParticipantID,
		PublishStatus:    rec.PublishStatus,
		Delivered:        rec.PublishStatus == OutboxPublishStatusSent,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CorrelationId:    rec.CorrelationId,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}
}

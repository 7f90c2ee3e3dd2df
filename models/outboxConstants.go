package models

// Outbox publish statuses for MirrorOutboxRecord.PublishStatus.
// Stored as strings so operators can query them directly.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ValidOutboxPublishStatus reports whether s is one of the publish statuses above.
func ValidOutboxPublishStatus(s string) bool {
	switch s {
	case OutboxPublishStatusPending, OutboxPublishStatusProcessing, OutboxPublishStatusSent,
		OutboxPublishStatusFailed, OutboxPublishStatusDead:
		return true
	}
	return false
}

const MirrorRowStatusSuccess = "SUCCESS"

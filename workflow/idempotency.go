package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// staleStartedAfter is how long a STARTED key blocks redelivery before another worker may take it over.
const staleStartedAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !models.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker is processing; ask for redelivery unless its claim went stale.
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

// IdempotencyGuard is the idempotency contract push consumers depend on.
type IdempotencyGuard interface {
	Begin(ctx context.Context, handlerName, messageId string) (skip bool, err error)
	Succeeded(ctx context.Context, handlerName, messageId string) error
	Failed(ctx context.Context, handlerName, messageId string, cause error) error
}

// GormIdempotency backs IdempotencyGuard with the idempotency_keys table. A nil DB uses config.GetDB().
type GormIdempotency struct {
	DB *gorm.DB
}

func (g GormIdempotency) db(ctx context.Context) *gorm.DB {
	if g.DB != nil {
		return g.DB.WithContext(ctx)
	}
	return config.GetDB().WithContext(ctx)
}

func (g GormIdempotency) Begin(ctx context.Context, handlerName, messageId string) (bool, error) {
	return BeginIdempotency(g.db(ctx), handlerName, messageId)
}

func (g GormIdempotency) Succeeded(ctx context.Context, handlerName, messageId string) error {
	return MarkIdempotencySucceeded(g.db(ctx), handlerName, messageId)
}

func (g GormIdempotency) Failed(ctx context.Context, handlerName, messageId string, cause error) error {
	return MarkIdempotencyFailed(g.db(ctx), handlerName, messageId, cause)
}

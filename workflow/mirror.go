package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/repogenesis/qrcheckin/models"
	"github.com/sirupsen/logrus"
)

const MirrorHandlerName = "sheet-mirror"

// ErrPoisonMessage marks a push message that can never succeed; the consumer should ack and drop it.
var ErrPoisonMessage = errors.New("poison message")

// MirrorProcessor appends pushed mirror rows to the sheet at most once per log entry.
type MirrorProcessor struct {
	Guard    IdempotencyGuard
	Appender RowAppender
	Location *time.Location
	Logger   *logrus.Logger
}

// Process handles one delivery. A nil return acks; ErrPoisonMessage acks and drops; anything else asks for redelivery.
func (p *MirrorProcessor) Process(ctx context.Context, messageID string, data []byte) error {
	var row models.MirrorRow
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("%w: decode mirror row: %v", ErrPoisonMessage, err)
	}
	if row.ParticipantID == "" || !row.Type.Valid() {
		return fmt.Errorf("%w: mirror row missing participant or type", ErrPoisonMessage)
	}
	if p.Appender == nil {
		return errors.New("no sheet appender configured")
	}

	// Keyed by log id so a row re-published by the dispatcher is still appended once.
	key := messageID
	if row.LogID > 0 {
		key = "log:" + strconv.Itoa(row.LogID)
	}

	skip, err := p.Guard.Begin(ctx, MirrorHandlerName, key)
	if err != nil {
		return fmt.Errorf("begin idempotency %s: %w", key, err)
	}
	if skip {
		return nil
	}

	if err := p.Appender.Append(ctx, row.Values(p.Location)); err != nil {
		if markErr := p.Guard.Failed(ctx, MirrorHandlerName, key, err); markErr != nil && p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{"field": "MirrorProcessor", "key": key}).Warn("mark idempotency failed: " + markErr.Error())
		}
		return err
	}
	if err := p.Guard.Succeeded(ctx, MirrorHandlerName, key); err != nil {
		// The row is already in the sheet; a redelivery would duplicate it, so ack anyway.
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{"field": "MirrorProcessor", "key": key}).Error("mark idempotency succeeded: " + err.Error())
		}
	}
	return nil
}

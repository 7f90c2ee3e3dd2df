package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
)

// Publisher delivers one outbox row. The returned id is the transport's message id, if it has one.
type Publisher interface {
	Publish(ctx context.Context, rec models.MirrorOutboxRecord) (string, error)
}

// RowAppender is the spreadsheet side of the mirror.
type RowAppender interface {
	Append(ctx context.Context, values []interface{}) error
}

// DirectPublisher appends straight to the sheet from the dispatcher.
type DirectPublisher struct {
	Appender RowAppender
	Location *time.Location
}

func (p DirectPublisher) Publish(ctx context.Context, rec models.MirrorOutboxRecord) (string, error) {
	if p.Appender == nil {
		return "", errors.New("no sheet appender configured")
	}
	row, err := rec.Row()
	if err != nil {
		return "", fmt.Errorf("decode outbox payload %d: %w", rec.ID, err)
	}
	return "", p.Appender.Append(ctx, row.Values(p.Location))
}

// PubSubPublisher forwards the row payload to a topic whose push subscription targets /pubsub.
type PubSubPublisher struct {
	Topic   string
	publish func(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

func NewPubSubPublisher(topic string) *PubSubPublisher {
	return &PubSubPublisher{Topic: topic, publish: config.PublishWithResult}
}

func (p *PubSubPublisher) Publish(ctx context.Context, rec models.MirrorOutboxRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return p.publish(ctx, p.Topic, []byte(rec.Payload), map[string]string{
		"log_id":         strconv.Itoa(rec.LogID),
		"participant_id": rec.ParticipantID,
		"correlation_id": rec.CorrelationId,
	})
}

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/repogenesis/qrcheckin/workflow"
	"github.com/sirupsen/logrus"
)

type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// mirrorPubSubHandler is the push endpoint for mirror rows. 204 acks; any other status makes Pub/Sub redeliver.
func mirrorPubSubHandler(processor *workflow.MirrorProcessor, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "pubsub_handler.go", "mirrorPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "pubsub_handler.go", "mirrorPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		if processor == nil {
			logger.WithFields(logrus.Fields{
				"field":      "mirrorPubSubHandler",
				"message_id": msg.Message.ID,
			}).Warn("mirror disabled; dropping pushed row")
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := msg.Message.Attributes["correlation_id"]
		if correlationID == "" {
			correlationID = msg.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		fields := logrus.Fields{
			"field":          "mirrorPubSubHandler",
			"message_id":     msg.Message.ID,
			"log_id":         msg.Message.Attributes["log_id"],
			"participant_id": msg.Message.Attributes["participant_id"],
			"correlation_id": correlationID,
		}

		if err := processor.Process(ctx, msg.Message.ID, msg.Message.Data); err != nil {
			if errors.Is(err, workflow.ErrPoisonMessage) {
				logger.WithFields(fields).Error("dropping poison mirror message: " + err.Error())
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(fields).Error("mirror processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/repogenesis/qrcheckin/workflow"
	"github.com/sirupsen/logrus"
)

// scanHandler serves POST /api/scan. Every outcome, including panics, is answered with the JSON result shape.
func scanHandler(svc *workflow.CheckinService, tr *i18n.Translator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		locale := utils.GetLocaleFromContext(ctx)

		defer func() {
			if r := recover(); r != nil {
				cid, _ := utils.GetCorrelationIdFromContext(ctx)
				logger.WithFields(logrus.Fields{
					"field":          "scanHandler",
					"correlation_id": cid,
				}).Error(fmt.Sprintf("panic during scan: %v", r))
				c.AbortWithStatusJSON(http.StatusInternalServerError, workflow.ScanResponse{
					Message: tr.T(locale, i18n.ServerError, nil),
				})
			}
		}()

		var req workflow.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			// An unreadable body is reported the same way as an empty one.
			req = workflow.ScanRequest{}
		}
		if req.Scanner != "" {
			ctx = utils.SetScannerInContext(ctx, req.Scanner)
		}

		res := svc.Scan(ctx, req)
		if res.Outcome != workflow.OutcomeMarked && res.Outcome != workflow.OutcomeAlreadyMarked {
			fields := logrus.Fields{
				"field":          "scanHandler",
				"participant_id": res.ParticipantID,
				"type":           string(res.Type),
				"outcome":        string(res.Outcome),
			}
			if scanner, ok := utils.GetScannerFromContext(ctx); ok {
				fields["scanner"] = scanner
			}
			logger.WithFields(fields).Info("scan rejected")
		}
		c.JSON(res.HTTPStatus(), res.Response(tr, locale))
	}
}

func participantHandler(reader participantReader, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		p, err := reader.GetParticipant(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, models.ErrParticipantNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
				return
			}
			config.LogError(logger, "scan_handler.go", "participantHandler", "GetParticipant", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

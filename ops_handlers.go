package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/models/reports"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/repogenesis/qrcheckin/workflow"
	"github.com/sirupsen/logrus"
)

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required,gt=0"`
}

// requeueFunc puts one FAILED or DEAD mirror outbox row back in line.
type requeueFunc func(ctx context.Context, recordID int) (bool, error)

// outboxQuery reads mirror outbox rows for operators.
type outboxQuery interface {
	Status(ctx context.Context, logID int) (*models.MirrorOutboxStatus, error)
	List(ctx context.Context, publishStatus string, limit int) ([]*models.MirrorOutboxStatus, error)
}

type gormOutboxQuery struct{}

func (gormOutboxQuery) Status(ctx context.Context, logID int) (*models.MirrorOutboxStatus, error) {
	return models.GetMirrorOutboxStatus(ctx, config.GetDB(), logID)
}

func (gormOutboxQuery) List(ctx context.Context, publishStatus string, limit int) ([]*models.MirrorOutboxStatus, error) {
	return models.ListMirrorOutbox(ctx, config.GetDB(), publishStatus, limit)
}

func outboxStatusHandler(q outboxQuery, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logID, err := strconv.Atoi(c.Param("log_id"))
		if err != nil || logID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "log_id must be a positive integer"})
			return
		}
		status, err := q.Status(c.Request.Context(), logID)
		if err != nil {
			if errors.Is(err, models.ErrMirrorRowNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no mirror row for that log entry"})
				return
			}
			config.LogError(logger, "ops_handlers.go", "outboxStatusHandler", "Status", logID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func outboxListHandler(q outboxQuery, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("status", models.OutboxPublishStatusDead)))
		if !models.ValidOutboxPublishStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown publish status"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := q.List(c.Request.Context(), status, limit)
		if err != nil {
			config.LogError(logger, "ops_handlers.go", "outboxListHandler", "List", status, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"publish_status": status, "rows": rows})
	}
}

func outboxReplayHandler(requeue requeueFunc, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		ok, err := requeue(c.Request.Context(), req.RecordId)
		if err != nil {
			config.LogError(logger, "ops_handlers.go", "outboxReplayHandler", "requeue", req.RecordId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "requeue failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no FAILED or DEAD mirror row with that id"})
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"field":          "outboxReplayHandler",
			"record_id":      req.RecordId,
			"correlation_id": cid,
		}).Info("mirror outbox row requeued")
		c.JSON(http.StatusOK, gin.H{
			"record_id":      req.RecordId,
			"publish_status": "FAILED",
			"correlation_id": cid,
		})
	}
}

func reconcileHandler(reconciler *workflow.Reconciler, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := reconciler.Run(c.Request.Context())
		if err != nil {
			config.LogError(logger, "ops_handlers.go", "reconcileHandler", "Run", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed", "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func exportHandler(src reports.ExportSource, loc *time.Location, logger *logrus.Logger) gin.HandlerFunc {
	if loc == nil {
		loc = time.UTC
	}
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := reports.WriteCheckinWorkbook(c.Request.Context(), &buf, src, loc); err != nil {
			config.LogError(logger, "ops_handlers.go", "exportHandler", "WriteCheckinWorkbook", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		name := "checkins-" + time.Now().In(loc).Format("20060102-1504") + ".xlsx"
		c.Header("Content-Disposition", "attachment; filename="+name)
		c.Data(http.StatusOK, utils.XlsxContentType, buf.Bytes())
	}
}

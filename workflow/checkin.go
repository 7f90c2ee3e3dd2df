package workflow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/qrpayload"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("qrcheckin/workflow")

// Store is what a check-in needs from persistence.
type Store interface {
	FindParticipant(ctx context.Context, id string) (*models.Participant, error)
	MarkEvent(ctx context.Context, id string, e models.EventType) (bool, error)
	RecordCheckin(ctx context.Context, entry *models.CheckinLog, row *models.MirrorRow) error
}

// Translator renders user-visible messages.
type Translator interface {
	T(locale, key string, data map[string]any) string
}

type Outcome string

const (
	OutcomeMarked        Outcome = "marked"
	OutcomeAlreadyMarked Outcome = "already_marked"
	OutcomeMissingFields Outcome = "missing_fields"
	OutcomeInvalidType   Outcome = "invalid_type"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeDatabaseError Outcome = "database_error"
	OutcomeUpdateFailed  Outcome = "update_failed"
)

type ScanRequest struct {
	QR      string `json:"qr"`
	Type    string `json:"type" validate:"oneof=attendance entry breakfast lunch dinner"`
	Scanner string `json:"scanner,omitempty"`
}

// ScanResult is the outcome of one check-in attempt, before rendering.
type ScanResult struct {
	Outcome       Outcome
	ParticipantID string
	Type          models.EventType
	Participant   *models.Participant
	LogRecorded   bool
}

// ScanResponse is the JSON body returned to scanners.
type ScanResponse struct {
	Success     bool                `json:"success"`
	Already     bool                `json:"already,omitempty"`
	Message     string              `json:"message"`
	Participant *models.Participant `json:"participant,omitempty"`
}

func (r ScanResult) Success() bool {
	return r.Outcome == OutcomeMarked
}

func (r ScanResult) HTTPStatus() int {
	switch r.Outcome {
	case OutcomeInvalidType:
		return http.StatusBadRequest
	case OutcomeNotFound:
		return http.StatusNotFound
	case OutcomeDatabaseError, OutcomeUpdateFailed:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// Response renders the result with tr in locale.
func (r ScanResult) Response(tr Translator, locale string) ScanResponse {
	name := r.ParticipantID
	if r.Participant != nil {
		name = r.Participant.DisplayName()
	}
	data := map[string]any{"Name": name, "Type": string(r.Type)}

	switch r.Outcome {
	case OutcomeMarked:
		return ScanResponse{Success: true, Message: tr.T(locale, i18n.Marked, data), Participant: r.Participant}
	case OutcomeAlreadyMarked:
		return ScanResponse{Already: true, Message: tr.T(locale, i18n.AlreadyMarked, data)}
	case OutcomeMissingFields:
		return ScanResponse{Message: tr.T(locale, i18n.MissingFields, nil)}
	case OutcomeInvalidType:
		return ScanResponse{Message: tr.T(locale, i18n.UnknownType, nil)}
	case OutcomeNotFound:
		return ScanResponse{Message: tr.T(locale, i18n.ParticipantNotFound, nil)}
	case OutcomeDatabaseError:
		return ScanResponse{Message: tr.T(locale, i18n.DatabaseError, nil)}
	case OutcomeUpdateFailed:
		return ScanResponse{Message: tr.T(locale, i18n.UpdateFailed, nil)}
	}
	return ScanResponse{Message: tr.T(locale, i18n.ServerError, nil)}
}

// CheckinService runs the check-in sequence against a Store.
type CheckinService struct {
	Store         Store
	Logger        *logrus.Logger
	MirrorEnabled bool
	Now           func() time.Time

	validate *validator.Validate
}

func NewCheckinService(store Store, logger *logrus.Logger, mirrorEnabled bool) *CheckinService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &CheckinService{
		Store:         store,
		Logger:        logger,
		MirrorEnabled: mirrorEnabled,
		Now:           time.Now,
		validate:      validator.New(),
	}
}

// Scan validates the request, flips the event flag at most once and records the log entry.
// Store errors never escape; they become outcomes.
func (s *CheckinService) Scan(ctx context.Context, req ScanRequest) (result ScanResult) {
	ctx, span := tracer.Start(ctx, "CheckinService.Scan")
	defer func() {
		span.SetAttributes(
			attribute.String("checkin.participant_id", result.ParticipantID),
			attribute.String("checkin.type", string(result.Type)),
			attribute.String("checkin.outcome", string(result.Outcome)),
		)
		if result.HTTPStatus() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, string(result.Outcome))
		}
		span.End()
		scansTotal.WithLabelValues(metricType(result.Type), string(result.Outcome)).Inc()
	}()

	if strings.TrimSpace(req.QR) == "" || req.Type == "" {
		return ScanResult{Outcome: OutcomeMissingFields}
	}
	if err := s.validator().Struct(req); err != nil {
		return ScanResult{Outcome: OutcomeInvalidType}
	}
	eventType, ok := models.ParseEventType(req.Type)
	if !ok {
		return ScanResult{Outcome: OutcomeInvalidType}
	}

	id := qrpayload.ExtractID(req.QR)
	result = ScanResult{ParticipantID: id, Type: eventType}
	fields := s.fields(ctx, id, eventType)

	participant, err := s.Store.FindParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrParticipantNotFound) {
			result.Outcome = OutcomeNotFound
			return result
		}
		s.Logger.WithFields(fields).Error("participant lookup failed: " + err.Error())
		result.Outcome = OutcomeDatabaseError
		return result
	}
	result.Participant = participant

	if participant.Flag(eventType) {
		result.Outcome = OutcomeAlreadyMarked
		return result
	}

	flipped, err := s.Store.MarkEvent(ctx, id, eventType)
	if err != nil {
		s.Logger.WithFields(fields).Error("participant update failed: " + err.Error())
		result.Outcome = OutcomeUpdateFailed
		return result
	}
	if !flipped {
		// A concurrent scan won the conditional update.
		result.Outcome = OutcomeAlreadyMarked
		return result
	}
	participant.SetFlag(eventType)
	result.Outcome = OutcomeMarked

	scanner := strings.TrimSpace(req.Scanner)
	entry := models.NewCheckinLog(id, eventType, scanner)
	var row *models.MirrorRow
	if s.MirrorEnabled {
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		row = &models.MirrorRow{
			CheckedInAt:   s.now().UTC(),
			ParticipantID: id,
			Name:          participant.NameValue(),
			Type:          eventType,
			Scanner:       entry.Scanner,
			CorrelationId: cid,
		}
	}
	if err := s.Store.RecordCheckin(ctx, entry, row); err != nil {
		if errors.Is(err, models.ErrCheckinLogged) {
			// Reconciliation got there between the flag update and this insert.
			s.Logger.WithFields(fields).Info("check-in already logged; skipping insert")
			result.LogRecorded = true
			return result
		}
		partialFailuresTotal.WithLabelValues("log").Inc()
		s.Logger.WithFields(fields).Error("check-in log insert failed; reconciliation will backfill: " + err.Error())
		return result
	}
	result.LogRecorded = true
	return result
}

func (s *CheckinService) validator() *validator.Validate {
	if s.validate == nil {
		s.validate = validator.New()
	}
	return s.validate
}

func (s *CheckinService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CheckinService) fields(ctx context.Context, id string, e models.EventType) logrus.Fields {
	f := logrus.Fields{
		"field":          "CheckinService",
		"participant_id": id,
		"type":           string(e),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		f["correlation_id"] = cid
	}
	if scanner, ok := utils.GetScannerFromContext(ctx); ok {
		f["scanner"] = scanner
	}
	return f
}

func metricType(e models.EventType) string {
	if e == "" {
		return "none"
	}
	return string(e)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/sirupsen/logrus"
)

// ReconcileStore is what the reconciler needs from persistence.
type ReconcileStore interface {
	FindUnloggedCheckins(ctx context.Context, e models.EventType, limit int) ([]models.Participant, error)
	RecordCheckin(ctx context.Context, entry *models.CheckinLog, row *models.MirrorRow) error
}

// Reconciler backfills log entries for flags that were set without one, which happens when the
// log insert fails after the conditional update committed.
type Reconciler struct {
	Store         ReconcileStore
	Logger        *logrus.Logger
	MirrorEnabled bool
	BatchSize     int
	Now           func() time.Time
}

type ReconcileReport struct {
	Backfilled map[models.EventType]int `json:"backfilled"`
	Skipped    int                      `json:"skipped"`
	Failed     int                      `json:"failed"`
}

func (r ReconcileReport) Total() int {
	n := 0
	for _, c := range r.Backfilled {
		n += c
	}
	return n
}

func NewReconciler(store ReconcileStore, logger *logrus.Logger, mirrorEnabled bool) *Reconciler {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Reconciler{
		Store:         store,
		Logger:        logger,
		MirrorEnabled: mirrorEnabled,
		BatchSize:     500,
		Now:           time.Now,
	}
}

// Run makes one pass over every event type. A lookup error aborts the pass. A failed insert is counted
// and skipped, and a gap that closed since the lookup is counted as Skipped.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{Backfilled: map[models.EventType]int{}}
	for _, e := range models.AllEventTypes {
		missing, err := r.Store.FindUnloggedCheckins(ctx, e, r.BatchSize)
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", e, err)
		}
		for _, p := range missing {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			entry := models.NewCheckinLog(p.ID, e, models.ReconciliationScanner)
			entry.Metadata = models.Metadata{"backfilled": true}
			var row *models.MirrorRow
			if r.MirrorEnabled {
				row = &models.MirrorRow{
					CheckedInAt:   r.now().UTC(),
					ParticipantID: p.ID,
					Name:          p.NameValue(),
					Type:          e,
					Scanner:       models.ReconciliationScanner,
				}
			}
			err := r.Store.RecordCheckin(ctx, entry, row)
			if errors.Is(err, models.ErrCheckinLogged) {
				// The live request or another replica logged it after the lookup.
				report.Skipped++
				continue
			}
			if err != nil {
				report.Failed++
				r.Logger.WithFields(logrus.Fields{
					"field":          "Reconciler",
					"participant_id": p.ID,
					"type":           string(e),
				}).Error("backfill log entry failed: " + err.Error())
				continue
			}
			report.Backfilled[e]++
			reconciledLogsTotal.WithLabelValues(string(e)).Inc()
		}
	}
	if total := report.Total(); total > 0 || report.Failed > 0 {
		r.Logger.WithFields(logrus.Fields{
			"field":      "Reconciler",
			"backfilled": total,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
		}).Warn("reconciliation backfilled missing check-in logs")
	}
	return report, nil
}

// RunEvery repeats Run until ctx is cancelled.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				config.LogError(r.Logger, "reconciliation.go", "RunEvery", "Run", nil, err)
			}
		}
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

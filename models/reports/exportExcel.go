package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/repogenesis/qrcheckin/models"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet      = "Summary"
	ParticipantsSheet = "Participants"
	LogsSheet         = "Logs"
)

// ExportSource is the read side the check-in workbook is built from.
type ExportSource interface {
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	ListLogs(ctx context.Context, limit int) ([]models.CheckinLog, error)
}

// CheckinWorkbook loads every participant and log entry and lays them out as a workbook.
// Timestamps are rendered in loc, the same zone the live spreadsheet mirror uses.
func CheckinWorkbook(ctx context.Context, src ExportSource, loc *time.Location) (*excelize.File, error) {
	participants, err := src.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := src.ListLogs(ctx, 0)
	if err != nil {
		return nil, err
	}
	return BuildWorkbook(participants, logs, loc)
}

func BuildWorkbook(participants []models.Participant, logs []models.CheckinLog, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	// NewFile starts with "Sheet1"; rename it instead of leaving an empty sheet behind.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ParticipantsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(LogsSheet); err != nil {
		return nil, err
	}

	if err := writeSummary(f, participants, logs); err != nil {
		return nil, err
	}

	header := []interface{}{"ID", "Name", "Email", "Team"}
	for _, e := range models.AllEventTypes {
		header = append(header, string(e))
	}
	if err := f.SetSheetRow(ParticipantsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, p := range participants {
		row := []interface{}{p.ID, p.NameValue(), p.EmailValue(), p.TeamValue()}
		for _, e := range models.AllEventTypes {
			row = append(row, p.Flag(e))
		}
		if err := f.SetSheetRow(ParticipantsSheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return nil, err
		}
	}

	logHeader := []interface{}{"Log ID", "Timestamp", "Participant ID", "Type", "Scanner"}
	if err := f.SetSheetRow(LogsSheet, "A1", &logHeader); err != nil {
		return nil, err
	}
	for i, l := range logs {
		row := []interface{}{l.ID, l.CreatedAt.In(loc).Format(models.MirrorTimeLayout), l.ParticipantID, string(l.Type), l.Scanner}
		if err := f.SetSheetRow(LogsSheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeSummary(f *excelize.File, participants []models.Participant, logs []models.CheckinLog) error {
	if err := f.SetSheetRow(SummarySheet, "A1", &[]interface{}{"Type", "Marked", "Logged", "Participants"}); err != nil {
		return err
	}
	logged := map[models.EventType]int{}
	for _, l := range logs {
		logged[l.Type]++
	}
	for i, e := range models.AllEventTypes {
		marked := 0
		for _, p := range participants {
			if p.Flag(e) {
				marked++
			}
		}
		row := []interface{}{string(e), marked, logged[e], len(participants)}
		if err := f.SetSheetRow(SummarySheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

// WriteCheckinWorkbook streams the workbook as xlsx to w.
func WriteCheckinWorkbook(ctx context.Context, w io.Writer, src ExportSource, loc *time.Location) error {
	f, err := CheckinWorkbook(ctx, src, loc)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

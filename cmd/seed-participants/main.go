// seed-participants loads the roster into the participants table. Input is a
// CSV file or the first sheet of an .xlsx workbook with the columns
// id,name,email,team (header row required; name, email and team may be blank).
// Existing participants get their contact fields refreshed; check-in flags are
// never modified.
//
// Usage:
//
//	go run ./cmd/seed-participants -file roster.csv
//	go run ./cmd/seed-participants -file roster.xlsx -dry-run
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/xuri/excelize/v2"
)

type rosterRow struct {
	ID    string `validate:"required,max=128"`
	Name  string `validate:"max=255"`
	Email string `validate:"omitempty,email,max=255"`
	Team  string `validate:"max=255"`
}

func main() {
	file := flag.String("file", "", "Roster file (.csv or .xlsx)")
	dryRun := flag.Bool("dry-run", false, "Validate the roster without writing")
	flag.Parse()
	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		os.Exit(2)
	}

	rows, err := readRoster(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read roster: %v\n", err)
		os.Exit(1)
	}
	participants, err := participantsFromRows(rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid roster: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		fmt.Printf("%d participants OK\n", len(participants))
		return
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()
	store := models.NewCheckinStore(db, 0)

	for i := range participants {
		if err := store.UpsertParticipant(ctx, &participants[i]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d participants\n", len(participants))
}

func readRoster(path string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.GetRows(f.GetSheetName(0))
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return readCSV(fh)
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

// participantsFromRows maps a header row plus data rows to participants. Duplicate ids are rejected.
func participantsFromRows(rows [][]string) ([]models.Participant, error) {
	if len(rows) == 0 {
		return nil, errors.New("empty roster")
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, errors.New(`header row must contain an "id" column`)
	}
	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	validate := validator.New()
	seen := map[string]int{}
	var out []models.Participant
	for n, row := range rows[1:] {
		line := n + 2
		r := rosterRow{ID: cell(row, "id"), Name: cell(row, "name"), Email: cell(row, "email"), Team: cell(row, "team")}
		if r.ID == "" && r.Name == "" && r.Email == "" && r.Team == "" {
			continue
		}
		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if prev, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("row %d: id %q already used on row %d", line, r.ID, prev)
		}
		seen[r.ID] = line
		out = append(out, models.Participant{
			ID:    r.ID,
			Name:  optional(r.Name),
			Email: optional(r.Email),
			Team:  optional(r.Team),
		})
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

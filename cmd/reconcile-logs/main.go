// reconcile-logs backfills check-in log entries for participant flags that were
// set without one (the log insert failed after the mark committed). Backfilled
// entries use scanner "reconciliation" and, when the spreadsheet mirror is
// configured, queue a mirror row for the running server's dispatcher.
//
// Usage (from repo root):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/reconcile-logs
//	go run ./cmd/reconcile-logs -dry-run
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/workflow"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Only count missing log entries per type")
	batch := flag.Int("batch", 500, "Maximum participants to backfill per type in one pass")
	flag.Parse()

	settings := config.Load()
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	store := models.NewCheckinStore(db, 0)

	if *dryRun {
		for _, e := range models.AllEventTypes {
			missing, err := store.FindUnloggedCheckins(ctx, e, *batch)
			if err != nil {
				fmt.Fprintf(os.Stderr, "lookup %s: %v\n", e, err)
				os.Exit(1)
			}
			fmt.Printf("%-10s missing=%d\n", e, len(missing))
		}
		return
	}

	reconciler := workflow.NewReconciler(store, config.GetLogger(), settings.Mirror.Enabled())
	reconciler.BatchSize = *batch
	report, err := reconciler.Run(ctx)
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation aborted: %v\n", err)
		os.Exit(1)
	}
	if report.Failed > 0 {
		os.Exit(2)
	}
}

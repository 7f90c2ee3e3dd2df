// checkin-export writes the participants, check-in log and per-type summary to
// an .xlsx workbook, either on disk or in a GCS bucket.
//
// Usage:
//
//	go run ./cmd/checkin-export -out checkins.xlsx
//	GCS_BUCKET=my-bucket go run ./cmd/checkin-export -gcs -sign 24h
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/models/reports"
	"github.com/repogenesis/qrcheckin/utils"
)

func main() {
	out := flag.String("out", "", "Output file path (default checkins-<timestamp>.xlsx)")
	toGCS := flag.Bool("gcs", false, "Upload to the GCS_BUCKET bucket instead of writing a local file")
	bucket := flag.String("bucket", "", "GCS bucket (overrides GCS_BUCKET)")
	sign := flag.Duration("sign", 0, "With -gcs, also print a signed download URL valid for this long")
	flag.Parse()

	settings := config.Load()
	loc := settings.Mirror.Location
	if loc == nil {
		loc = time.UTC
	}
	name := *out
	if name == "" {
		name = "checkins-" + time.Now().In(loc).Format("20060102-1504") + ".xlsx"
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	store := models.NewCheckinStore(db, 0)

	var buf bytes.Buffer
	if err := reports.WriteCheckinWorkbook(ctx, &buf, store, loc); err != nil {
		fmt.Fprintf(os.Stderr, "build workbook: %v\n", err)
		os.Exit(1)
	}

	if *toGCS {
		b := *bucket
		if b == "" {
			b = settings.GCSBucket
		}
		if b == "" {
			fmt.Fprintln(os.Stderr, "no bucket: pass -bucket or set GCS_BUCKET")
			os.Exit(2)
		}
		object := "exports/" + name
		uri, err := utils.UploadBytesToGCS(ctx, b, object, buf.Bytes(), utils.XlsxContentType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(uri)
		if *sign > 0 {
			link, err := utils.SignDownload(ctx, b, object, *sign)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sign download: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s (expires %s)\n", link.URL, link.ExpiresAt.Format(time.RFC3339))
		}
		return
	}

	if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Println(name)
}

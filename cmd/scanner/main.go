// scanner runs one check-in station from a keyboard-wedge QR reader (or any
// process that writes one decoded payload per line to stdin) and submits each
// decode to POST /api/scan.
//
// Usage:
//
//	go run ./cmd/scanner --endpoint https://host/api/scan --type lunch --scanner gate-2
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/scanner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		endpoint  string
		eventType string
		scannerID string
		cooldown  time.Duration
		locale    string
	)

	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "Submit QR decodes read from stdin as check-ins",
		Long: `scanner reads one decoded QR payload per line from stdin and submits it
as a check-in for the chosen event type. Repeats of the same identifier are
ignored until the cooldown has passed since the last submission finished.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, ok := models.ParseEventType(eventType)
			if !ok {
				return fmt.Errorf("unknown --type %q (want one of %s)", eventType, eventTypeNames())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := scanner.NewClient(endpoint, e, scannerID)
			client.Cooldown = cooldown
			client.Locale = locale
			client.Logger = config.GetLogger()
			client.OnStatus = printStatus(cmd.OutOrStdout(), client)
			return client.Run(ctx, readDecodes(ctx, cmd.InOrStdin(), client.Logger))
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8080/api/scan", "Check-in endpoint URL")
	cmd.Flags().StringVar(&eventType, "type", "", "Event type to mark ("+eventTypeNames()+")")
	cmd.Flags().StringVar(&scannerID, "scanner", scanner.DefaultScannerID, "Scanner identifier recorded with each check-in")
	cmd.Flags().DurationVar(&cooldown, "cooldown", scanner.DefaultCooldown, "Ignore repeats of the same identifier for this long")
	cmd.Flags().StringVar(&locale, "locale", "en", "Language for status messages")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func eventTypeNames() string {
	names := make([]string, 0, len(models.AllEventTypes))
	for _, e := range models.AllEventTypes {
		names = append(names, string(e))
	}
	return strings.Join(names, ", ")
}

// readDecodes turns input lines into decode events. A read error is delivered as a device error.
func readDecodes(ctx context.Context, r io.Reader, logger *logrus.Logger) <-chan scanner.Decode {
	out := make(chan scanner.Decode)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- scanner.Decode{Payload: sc.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.WithFields(logrus.Fields{"field": "scanner"}).Error("read input: " + err.Error())
			select {
			case out <- scanner.Decode{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func printStatus(w io.Writer, c *scanner.Client) func(scanner.Status) {
	return func(s scanner.Status) {
		fmt.Fprintln(w, c.Line(s))
	}
}

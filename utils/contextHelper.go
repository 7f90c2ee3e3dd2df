package utils

import (
	"context"

	"github.com/repogenesis/qrcheckin/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyScanner       = appctx.ContextKeyScanner
	ContextKeyLocale        = appctx.ContextKeyLocale
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetScannerFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyScanner)
}

func SetScannerInContext(ctx context.Context, scanner string) context.Context {
	return appctx.Set(ctx, ContextKeyScanner, scanner)
}

func GetLocaleFromContext(ctx context.Context) string {
	if v, ok := appctx.GetString(ctx, ContextKeyLocale); ok {
		return v
	}
	return ""
}

func SetLocaleInContext(ctx context.Context, locale string) context.Context {
	return appctx.Set(ctx, ContextKeyLocale, locale)
}

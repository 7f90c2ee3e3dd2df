// Package i18n holds every user-visible message behind a go-i18n bundle.
package i18n

import (
	"embed"
	"sync"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"github.com/repogenesis/qrcheckin/config"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

// Message keys used outside this package.
const (
	MissingFields       = "missing_fields"
	UnknownType         = "unknown_type"
	DatabaseError       = "database_error"
	ParticipantNotFound = "participant_not_found"
	AlreadyMarked       = "already_marked"
	UpdateFailed        = "update_failed"
	Marked              = "marked"
	ServerError         = "server_error"
	RateLimited         = "rate_limited"

	ScannerVerifying    = "scanner_verifying"
	ScannerNetworkError = "scanner_network_error"
	ScannerCameraError  = "scanner_camera_error"
	ScannerReady        = "scanner_ready"
	ScannerScanned      = "scanner_scanned"

	StatusInvalidLinkTitle = "status_invalid_link_title"
	StatusInvalidLinkBody  = "status_invalid_link_body"
	StatusInvalidQRTitle   = "status_invalid_qr_title"
	StatusInvalidQRBody    = "status_invalid_qr_body"
	StatusErrorTitle       = "status_error_title"
	StatusErrorBody        = "status_error_body"
	StatusDownload         = "status_download"
	StatusHeading          = "status_heading"
	StatusTeam             = "status_team"
	StatusTitle            = "status_title"
	StatusTip              = "status_tip"
)

// EventLabel is the key of the display label for an event type name.
func EventLabel(eventType string) string {
	return "event_" + eventType
}

// Translator is a thin wrapper around go-i18n's Bundle/Localizer.
type Translator struct {
	bundle          *goi18n.Bundle
	defaultLanguage language.Tag
}

// NewTranslator builds a Translator from the embedded catalogs using defaultLocale as the fallback.
func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := goi18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		config.LogError(config.GetLogger(), "translations.go", "NewTranslator", "ReadDir", nil, err)
	}
	for _, entry := range entries {
		if _, err := bundle.LoadMessageFileFS(localeFS, entry.Name()); err != nil {
			config.LogError(config.GetLogger(), "translations.go", "NewTranslator", "LoadMessageFileFS", entry.Name(), err)
		}
	}

	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
	}
}

// T renders the message identified by key for locale, falling back to the
// default locale and finally to the key itself.
func (t *Translator) T(locale, key string, data map[string]any) string {
	if key == "" {
		return ""
	}
	languages := make([]string, 0, 2)
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	localizer := goi18n.NewLocalizer(t.bundle, languages...)
	msg, err := localizer.Localize(&goi18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		config.GetLogger().WithField("key", key).Warn("i18n: localize failed: " + err.Error())
		return key
	}
	return msg
}

var (
	defaultTranslator *Translator
	defaultOnce       sync.Once
)

// Default returns the process-wide translator built from LOCALE (default "en").
func Default() *Translator {
	defaultOnce.Do(func() {
		defaultTranslator = NewTranslator(config.Load().Locale)
	})
	return defaultTranslator
}

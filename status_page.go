package main

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/qrimage"
	"github.com/repogenesis/qrcheckin/qrpayload"
	"github.com/repogenesis/qrcheckin/utils"
	"github.com/sirupsen/logrus"
)

//go:embed templates/status.html
var templateFS embed.FS

var statusTemplate = template.Must(template.ParseFS(templateFS, "templates/status.html"))

// participantReader is the read-only lookup behind the status page and JSON read.
type participantReader interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
}

type statusRow struct {
	Label string
	Done  bool
}

type statusPage struct {
	Lang  string
	Title string
	Body  string

	Participant   *models.Participant
	StatusURL     string
	QRSrc         string
	QRSize        int
	DownloadHref  string
	DownloadName  string
	DownloadLabel string
	TeamLabel     string
	Heading       string
	Rows          []statusRow
	Tip           string
}

func statusPageHandler(reader participantReader, tr *i18n.Translator, baseURL string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		locale := utils.GetLocaleFromContext(ctx)
		page := statusPage{Lang: pageLang(locale)}

		id := strings.TrimSpace(c.Query("id"))
		if id == "" {
			page.Title = tr.T(locale, i18n.StatusInvalidLinkTitle, nil)
			page.Body = tr.T(locale, i18n.StatusInvalidLinkBody, nil)
			renderStatusPage(c, http.StatusBadRequest, page, logger)
			return
		}

		p, err := reader.GetParticipant(ctx, id)
		switch {
		case errors.Is(err, models.ErrParticipantNotFound):
			page.Title = tr.T(locale, i18n.StatusInvalidQRTitle, nil)
			page.Body = tr.T(locale, i18n.StatusInvalidQRBody, nil)
			renderStatusPage(c, http.StatusNotFound, page, logger)
			return
		case err != nil:
			config.LogError(logger, "status_page.go", "statusPageHandler", "GetParticipant", id, err)
			page.Title = tr.T(locale, i18n.StatusErrorTitle, nil)
			page.Body = tr.T(locale, i18n.StatusErrorBody, nil)
			renderStatusPage(c, http.StatusInternalServerError, page, logger)
			return
		}

		q := url.Values{"id": {id}}
		page.Title = tr.T(locale, i18n.StatusTitle, nil)
		page.Participant = p
		page.StatusURL = qrpayload.StatusURL(baseURL, id)
		page.QRSrc = "/scan/qr.png?" + q.Encode()
		page.QRSize = qrimage.DefaultSize + 2*qrimage.DefaultMargin
		q.Set("download", "1")
		page.DownloadHref = "/scan/qr.png?" + q.Encode()
		page.DownloadName = qrimage.FileName(id)
		page.DownloadLabel = tr.T(locale, i18n.StatusDownload, nil)
		page.TeamLabel = tr.T(locale, i18n.StatusTeam, nil)
		page.Heading = tr.T(locale, i18n.StatusHeading, nil)
		page.Tip = tr.T(locale, i18n.StatusTip, nil)
		for _, e := range models.AllEventTypes {
			page.Rows = append(page.Rows, statusRow{
				Label: tr.T(locale, i18n.EventLabel(string(e)), nil),
				Done:  p.Flag(e),
			})
		}
		renderStatusPage(c, http.StatusOK, page, logger)
	}
}

func renderStatusPage(c *gin.Context, status int, page statusPage, logger *logrus.Logger) {
	c.Header("Cache-Control", "no-store")
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(c.Writer, page); err != nil {
		config.LogError(logger, "status_page.go", "renderStatusPage", "Execute", page.Title, err)
	}
}

func qrImageHandler(reader participantReader, baseURL string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Query("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		if _, err := reader.GetParticipant(c.Request.Context(), id); err != nil {
			if errors.Is(err, models.ErrParticipantNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
				return
			}
			config.LogError(logger, "status_page.go", "qrImageHandler", "GetParticipant", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}

		png, err := qrimage.Render(qrpayload.StatusURL(baseURL, id), qrimage.Options{})
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
			return
		}
		if c.Query("download") == "1" {
			c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": qrimage.FileName(id)}))
		}
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, "image/png", png)
	}
}

func pageLang(locale string) string {
	if locale == "" {
		return "en"
	}
	return locale
}

// Package qrpayload turns a raw QR payload into a participant identifier.
package qrpayload

import (
	"net/url"
	"strings"
)

// ExtractID returns the value of the "id" query parameter when raw is a
// URL with a scheme that carries one, and the trimmed payload otherwise.
// Opaque URLs such as "rgqr:scan?id=42" count.
// It never fails; an empty payload yields "".
func ExtractID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" {
		return trimmed
	}
	if id := strings.TrimSpace(u.Query().Get("id")); id != "" {
		return id
	}
	return trimmed
}

// StatusURL is the link a participant's QR code encodes.
func StatusURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/scan?id=" + url.QueryEscape(id)
}

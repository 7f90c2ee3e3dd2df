package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedScan struct {
	QR      string `json:"qr"`
	Type    string `json:"type"`
	Scanner string `json:"scanner"`
}

func newScanServer(t *testing.T, respond func(req recordedScan) (int, string)) (*httptest.Server, *[]recordedScan) {
	t.Helper()
	var mu sync.Mutex
	var got []recordedScan
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req recordedScan
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		code, body := respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestClient(endpoint string) *Client {
	c := NewClient(endpoint, models.EventLunch, "")
	c.Translator = i18n.NewTranslator("en")
	return c
}

func TestHandleDecodeSubmitsAndRendersSuccess(t *testing.T) {
	srv, got := newScanServer(t, func(recordedScan) (int, string) {
		return http.StatusOK, `{"success":true,"message":"Marked lunch for Asha","participant":{"id":"42"}}`
	})
	c := newTestClient(srv.URL)
	var seen []StatusKind
	c.OnStatus = func(s Status) { seen = append(seen, s.Kind) }

	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: " https://rgqrscan.vercel.app/scan?id=42 "}))

	st := c.Status()
	assert.Equal(t, StatusSuccess, st.Kind)
	assert.Equal(t, "Marked lunch for Asha", st.Message)
	assert.Equal(t, "42", st.Scanned)
	assert.Equal(t, []StatusKind{StatusLoading, StatusSuccess}, seen)

	require.Len(t, *got, 1)
	assert.Equal(t, recordedScan{QR: "https://rgqrscan.vercel.app/scan?id=42", Type: "lunch", Scanner: "device-1"}, (*got)[0])
}

func TestHandleDecodeSuppressesRepeatUntilCooldown(t *testing.T) {
	srv, got := newScanServer(t, func(recordedScan) (int, string) {
		return http.StatusOK, `{"success":false,"already":true,"message":"Asha already marked for lunch"}`
	})
	c := newTestClient(srv.URL)
	c.Cooldown = 50 * time.Millisecond
	defer c.Close()

	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: "42"}))
	assert.Equal(t, StatusAlready, c.Status().Kind)
	assert.False(t, c.HandleDecode(context.Background(), Decode{Payload: "https://x/scan?id=42"}), "same id inside the cooldown")
	assert.Len(t, *got, 1)

	assert.Eventually(t, func() bool {
		return c.HandleDecode(context.Background(), Decode{Payload: "42"})
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, *got, 2)
}

func TestHandleDecodeDifferentIDsAreNotSuppressed(t *testing.T) {
	srv, got := newScanServer(t, func(recordedScan) (int, string) {
		return http.StatusOK, `{"success":true,"message":"ok"}`
	})
	c := newTestClient(srv.URL)
	defer c.Close()

	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: "42"}))
	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: "43"}))
	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: "42"}))
	assert.Len(t, *got, 3)
}

func TestHandleDecodeErrorResponses(t *testing.T) {
	srv, _ := newScanServer(t, func(r recordedScan) (int, string) {
		if r.QR == "broken" {
			return http.StatusBadGateway, "<html>bad gateway</html>"
		}
		return http.StatusNotFound, `{"success":false,"message":"Participant not found"}`
	})
	c := newTestClient(srv.URL)
	defer c.Close()

	c.HandleDecode(context.Background(), Decode{Payload: "nobody"})
	assert.Equal(t, Status{Kind: StatusError, Message: "Participant not found", Scanned: "nobody"}, c.Status())

	c.HandleDecode(context.Background(), Decode{Payload: "broken"})
	assert.Equal(t, StatusError, c.Status().Kind)
	assert.Equal(t, "Server or network error", c.Status().Message)
}

func TestHandleDecodeNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := newTestClient(endpoint)
	defer c.Close()
	assert.True(t, c.HandleDecode(context.Background(), Decode{Payload: "42"}))
	assert.Equal(t, StatusError, c.Status().Kind)
	assert.Equal(t, "Server or network error", c.Status().Message)
}

func TestCameraErrorAndEmptyPayloads(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	assert.Equal(t, StatusIdle, c.Status().Kind)

	assert.False(t, c.HandleDecode(context.Background(), Decode{Payload: "   "}))
	assert.Equal(t, StatusIdle, c.Status().Kind)

	assert.False(t, c.HandleDecode(context.Background(), Decode{Err: errors.New("permission denied")}))
	assert.Equal(t, StatusCameraError, c.Status().Kind)
	assert.Equal(t, "Camera error", c.Status().Message)
}

func TestRunDrainsChannel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	decodes := make(chan Decode, 3)
	decodes <- Decode{Payload: "1"}
	decodes <- Decode{Payload: "1"}
	decodes <- Decode{Payload: "2"}
	close(decodes)

	var seen []Status
	c.OnStatus = func(s Status) { seen = append(seen, s) }

	require.NoError(t, c.Run(context.Background(), decodes))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NotEmpty(t, seen)
	assert.Equal(t, Status{Kind: StatusIdle, Message: "Ready to scan"}, seen[0])
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx, make(chan Decode)), context.Canceled)
}

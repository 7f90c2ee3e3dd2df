package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/config"
	"github.com/repogenesis/qrcheckin/i18n"
	"github.com/repogenesis/qrcheckin/models"
	"github.com/repogenesis/qrcheckin/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu           sync.Mutex
	participants map[string]*models.Participant
	logs         []models.CheckinLog
	rows         []models.MirrorRow
	readErr      error
	recordErr    error
}

func newMemStore(ps ...models.Participant) *memStore {
	s := &memStore{participants: map[string]*models.Participant{}}
	for i := range ps {
		p := ps[i]
		s.participants[p.ID] = &p
	}
	return s
}

func (s *memStore) FindParticipant(_ context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	p, ok := s.participants[id]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	return s.FindParticipant(ctx, id)
}

func (s *memStore) MarkEvent(_ context.Context, id string, e models.EventType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participants[id]
	if p.Flag(e) {
		return false, nil
	}
	p.SetFlag(e)
	return true, nil
}

func (s *memStore) RecordCheckin(_ context.Context, entry *models.CheckinLog, row *models.MirrorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	entry.ID = len(s.logs) + 1
	entry.CreatedAt = time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	s.logs = append(s.logs, *entry)
	if row != nil {
		row.LogID = entry.ID
		s.rows = append(s.rows, *row)
	}
	return nil
}

func (s *memStore) FindUnloggedCheckins(_ context.Context, e models.EventType, _ int) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Participant
	for _, p := range s.participants {
		if !p.Flag(e) {
			continue
		}
		logged := false
		for _, l := range s.logs {
			if l.ParticipantID == p.ID && l.Type == e {
				logged = true
				break
			}
		}
		if !logged {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) ListParticipants(context.Context) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Participant
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out, nil
}

func (s *memStore) ListLogs(context.Context, int) ([]models.CheckinLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CheckinLog(nil), s.logs...), nil
}

type stubGuard struct{ done map[string]bool }

func (g *stubGuard) Begin(_ context.Context, h, id string) (bool, error) { return g.done[h+id], nil }
func (g *stubGuard) Succeeded(_ context.Context, h, id string) error    { g.done[h+id] = true; return nil }
func (g *stubGuard) Failed(context.Context, string, string, error) error { return nil }

type stubAppender struct {
	rows [][]interface{}
	err  error
}

func (a *stubAppender) Append(_ context.Context, v []interface{}) error {
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, v)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func strPtr(s string) *string { return &s }

type stubOutbox struct {
	rows map[int]*models.MirrorOutboxStatus
	err  error
}

func (o stubOutbox) Status(_ context.Context, logID int) (*models.MirrorOutboxStatus, error) {
	if o.err != nil {
		return nil, o.err
	}
	if st, ok := o.rows[logID]; ok {
		return st, nil
	}
	return nil, models.ErrMirrorRowNotFound
}

func (o stubOutbox) List(_ context.Context, status string, _ int) ([]*models.MirrorOutboxStatus, error) {
	if o.err != nil {
		return nil, o.err
	}
	var out []*models.MirrorOutboxStatus
	for _, st := range o.rows {
		if st.PublishStatus == status {
			out = append(out, st)
		}
	}
	return out, nil
}

type testServer struct {
	router   *gin.Engine
	store    *memStore
	appender *stubAppender
	requeued []int
}

func newTestServer(t *testing.T, store *memStore, mutate func(*routerDeps)) *testServer {
	t.Helper()
	ts := &testServer{store: store, appender: &stubAppender{}}
	logger := quietLogger()
	settings := config.Settings{
		PublicBaseURL: "https://rgqrscan.vercel.app",
		OpsToken:      "ops-token",
		Mirror:        config.MirrorSettings{Location: time.UTC},
	}
	deps := routerDeps{
		Settings:     settings,
		Logger:       logger,
		Translator:   i18n.NewTranslator("en"),
		Checkin:      workflow.NewCheckinService(store, logger, true),
		Participants: store,
		Export:       store,
		Mirror: &workflow.MirrorProcessor{
			Guard:    &stubGuard{done: map[string]bool{}},
			Appender: ts.appender,
			Location: time.UTC,
			Logger:   logger,
		},
		Reconciler: workflow.NewReconciler(store, logger, false),
		Requeue: func(_ context.Context, id int) (bool, error) {
			ts.requeued = append(ts.requeued, id)
			return id == 7, nil
		},
		Outbox: stubOutbox{rows: map[int]*models.MirrorOutboxStatus{
			3: {RecordId: 11, LogID: 3, ParticipantID: "42", PublishStatus: models.OutboxPublishStatusDead, PublishAttempts: 20},
		}},
		Ready: func() bool { return true },
	}
	if mutate != nil {
		mutate(&deps)
	}
	ts.router = newRouter(deps)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func scanRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeScan(t *testing.T, w *httptest.ResponseRecorder) workflow.ScanResponse {
	t.Helper()
	var resp workflow.ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestScanEndpointMarksThenReportsAlready(t *testing.T) {
	ts := newTestServer(t, newMemStore(models.Participant{ID: "42", Name: strPtr("Asha")}), nil)

	w := ts.do(scanRequest(`{"qr":"https://rgqrscan.vercel.app/scan?id=42","type":"lunch","scanner":"device-1"}`))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeScan(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Marked lunch for Asha", resp.Message)
	require.NotNil(t, resp.Participant)
	assert.True(t, resp.Participant.Lunch)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))

	require.Len(t, ts.store.logs, 1)
	assert.Equal(t, "device-1", ts.store.logs[0].Scanner)
	require.Len(t, ts.store.rows, 1)

	w = ts.do(scanRequest(`{"qr":"42","type":"lunch"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	resp = decodeScan(t, w)
	assert.False(t, resp.Success)
	assert.True(t, resp.Already)
	assert.Equal(t, "Asha already marked for lunch", resp.Message)
	assert.Len(t, ts.store.logs, 1)
}

func TestScanEndpointFailureShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		readErr error
		code    int
		message string
	}{
		{"missing type", `{"qr":"42"}`, nil, http.StatusOK, "Missing qr or type"},
		{"malformed body", `{"qr":`, nil, http.StatusOK, "Missing qr or type"},
		{"unknown type", `{"qr":"42","type":"snack"}`, nil, http.StatusBadRequest, "Unknown scan type"},
		{"not found", `{"qr":"99","type":"entry"}`, nil, http.StatusNotFound, "Participant not found"},
		{"db error", `{"qr":"42","type":"entry"}`, errors.New("down"), http.StatusInternalServerError, "Database error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore(models.Participant{ID: "42"})
			store.readErr = tc.readErr
			ts := newTestServer(t, store, nil)
			w := ts.do(scanRequest(tc.body))
			assert.Equal(t, tc.code, w.Code)
			resp := decodeScan(t, w)
			assert.False(t, resp.Success)
			assert.False(t, resp.Already)
			assert.Equal(t, tc.message, resp.Message)
			assert.Empty(t, store.logs)
		})
	}
}

func TestScanEndpointSwallowsLogFailure(t *testing.T) {
	store := newMemStore(models.Participant{ID: "42", Name: strPtr("Asha")})
	store.recordErr = errors.New("insert failed")
	ts := newTestServer(t, store, nil)

	w := ts.do(scanRequest(`{"qr":"42","type":"dinner"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeScan(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Marked dinner for Asha", resp.Message)
	assert.True(t, store.participants["42"].Dinner)
}

func TestScanEndpointRecoversFromPanic(t *testing.T) {
	ts := newTestServer(t, newMemStore(), func(d *routerDeps) {
		d.Checkin = workflow.NewCheckinService(nil, quietLogger(), false)
	})
	w := ts.do(scanRequest(`{"qr":"42","type":"entry"}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server error", decodeScan(t, w).Message)
}

func TestStatusPage(t *testing.T) {
	store := newMemStore(models.Participant{
		ID: "42", Name: strPtr("Asha"), Email: strPtr("asha@example.org"), Team: strPtr("Blue"),
		AttendanceMarked: true, Lunch: true,
	})
	ts := newTestServer(t, store, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/scan?id=42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Asha")
	assert.Contains(t, body, "asha@example.org")
	assert.Contains(t, body, "Team: Blue")
	assert.Contains(t, body, `src="/scan/qr.png?id=42"`)
	assert.Contains(t, body, `download="42.png"`)
	assert.Contains(t, body, "https://rgqrscan.vercel.app/scan?id=42")
	assert.Equal(t, 2, strings.Count(body, "✔️"))
	assert.Equal(t, 3, strings.Count(body, "❌"))
	assert.Less(t, strings.Index(body, "Attendance"), strings.Index(body, "Dinner"))
}

func TestStatusPageInvalidLinks(t *testing.T) {
	store := newMemStore()
	ts := newTestServer(t, store, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/scan", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid QR Link")
	assert.Contains(t, w.Body.String(), "No ID was provided.")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/scan?id=nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid QR")
	assert.Contains(t, w.Body.String(), "This ID doesn&#39;t exist.")

	store.readErr = errors.New("down")
	w = ts.do(httptest.NewRequest(http.MethodGet, "/scan?id=42", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestQRImage(t *testing.T) {
	ts := newTestServer(t, newMemStore(models.Participant{ID: "42"}), nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/scan/qr.png?id=42&download=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=42.png", w.Header().Get("Content-Disposition"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/scan/qr.png?id=42", nil))
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/scan/qr.png?id=nope", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(httptest.NewRequest(http.MethodGet, "/scan/qr.png", nil)).Code)
}

func TestParticipantJSON(t *testing.T) {
	ts := newTestServer(t, newMemStore(models.Participant{ID: "42", Breakfast: true}), nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/participants/42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Participant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "42", p.ID)
	assert.True(t, p.Breakfast)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/participants/7", nil)).Code)
}

func pushRequest(t *testing.T, id string, row models.MirrorRow) *http.Request {
	t.Helper()
	data, err := json.Marshal(row)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"id":         id,
			"data":       base64.StdEncoding.EncodeToString(data),
			"attributes": map[string]string{"log_id": "5"},
		},
		"subscription": "projects/p/subscriptions/s",
	})
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/pubsub", bytes.NewReader(body))
}

func TestPubSubPushAppendsOnce(t *testing.T) {
	ts := newTestServer(t, newMemStore(), nil)
	row := models.MirrorRow{
		LogID:         5,
		CheckedInAt:   time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC),
		ParticipantID: "42",
		Name:          "Asha",
		Type:          models.EventEntry,
		Scanner:       "gate",
	}

	assert.Equal(t, http.StatusNoContent, ts.do(pushRequest(t, "m1", row)).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(pushRequest(t, "m2", row)).Code)
	require.Len(t, ts.appender.rows, 1)
	assert.Equal(t, []interface{}{"2026-03-14 06:30:00", "42", "Asha", "entry", "gate", "SUCCESS"}, ts.appender.rows[0])

	// Poison payloads are acked.
	assert.Equal(t, http.StatusNoContent, ts.do(httptest.NewRequest(http.MethodPost, "/pubsub", strings.NewReader("nope"))).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(pushRequest(t, "m3", models.MirrorRow{LogID: 6})).Code)

	// Sheet failures ask for redelivery.
	ts.appender.err = errors.New("quota")
	row.LogID = 8
	assert.Equal(t, http.StatusInternalServerError, ts.do(pushRequest(t, "m4", row)).Code)
}

func TestPubSubPushWithMirrorDisabled(t *testing.T) {
	ts := newTestServer(t, newMemStore(), func(d *routerDeps) { d.Mirror = nil })
	assert.Equal(t, http.StatusNoContent, ts.do(pushRequest(t, "m1", models.MirrorRow{LogID: 1, ParticipantID: "42", Type: models.EventEntry})).Code)
}

func opsRequest(method, path, body, token string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestOpsOutboxReplay(t *testing.T) {
	ts := newTestServer(t, newMemStore(), nil)

	assert.Equal(t, http.StatusUnauthorized, ts.do(opsRequest(http.MethodPost, "/internal/ops/outbox/replay", `{"record_id":7}`, "")).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(opsRequest(http.MethodPost, "/internal/ops/outbox/replay", `{}`, "ops-token")).Code)
	assert.Equal(t, http.StatusOK, ts.do(opsRequest(http.MethodPost, "/internal/ops/outbox/replay", `{"record_id":7}`, "ops-token")).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(opsRequest(http.MethodPost, "/internal/ops/outbox/replay", `{"record_id":8}`, "ops-token")).Code)
	assert.Equal(t, []int{7, 8}, ts.requeued)
}

func TestOpsOutboxInspection(t *testing.T) {
	ts := newTestServer(t, newMemStore(), nil)

	w := ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox/3", "", "ops-token"))
	require.Equal(t, http.StatusOK, w.Code)
	var st models.MirrorOutboxStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 11, st.RecordId)
	assert.Equal(t, models.OutboxPublishStatusDead, st.PublishStatus)

	assert.Equal(t, http.StatusNotFound, ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox/4", "", "ops-token")).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox/abc", "", "ops-token")).Code)

	w = ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox", "", "ops-token"))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		PublishStatus string                       `json:"publish_status"`
		Rows          []*models.MirrorOutboxStatus `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "DEAD", list.PublishStatus)
	assert.Len(t, list.Rows, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox?status=LOST", "", "ops-token")).Code)
}

func TestOpsRoutesHiddenWithoutToken(t *testing.T) {
	ts := newTestServer(t, newMemStore(), func(d *routerDeps) { d.Settings.OpsToken = "" })
	assert.Equal(t, http.StatusNotFound, ts.do(opsRequest(http.MethodGet, "/internal/ops/outbox", "", "anything")).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(opsRequest(http.MethodGet, "/api/export.xlsx", "", "")).Code)
}

func TestOpsReconcileBackfillsGap(t *testing.T) {
	store := newMemStore(models.Participant{ID: "42", Name: strPtr("Asha")})
	store.recordErr = errors.New("insert failed")
	ts := newTestServer(t, store, nil)

	require.Equal(t, http.StatusOK, ts.do(scanRequest(`{"qr":"42","type":"lunch"}`)).Code)
	assert.Empty(t, store.logs)

	store.recordErr = nil
	w := ts.do(opsRequest(http.MethodPost, "/internal/ops/reconcile", "", "ops-token"))
	require.Equal(t, http.StatusOK, w.Code)
	var report workflow.ReconcileReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Backfilled[models.EventLunch])
	require.Len(t, store.logs, 1)
	assert.Equal(t, models.ReconciliationScanner, store.logs[0].Scanner)
}

func TestExportWorkbook(t *testing.T) {
	store := newMemStore(models.Participant{ID: "42", Name: strPtr("Asha")})
	ts := newTestServer(t, store, nil)
	require.Equal(t, http.StatusOK, ts.do(scanRequest(`{"qr":"42","type":"entry"}`)).Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(opsRequest(http.MethodGet, "/api/export.xlsx", "", "")).Code)

	w := ts.do(opsRequest(http.MethodGet, "/api/export.xlsx", "", "ops-token"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Logs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "42", rows[1][2])
	assert.Equal(t, "entry", rows[1][3])
}

func TestReadinessGateAndNotFound(t *testing.T) {
	ts := newTestServer(t, newMemStore(), func(d *routerDeps) { d.Ready = func() bool { return false } })
	assert.Equal(t, http.StatusNoContent, ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(scanRequest(`{"qr":"42","type":"entry"}`)).Code)

	ts = newTestServer(t, newMemStore(), nil)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}

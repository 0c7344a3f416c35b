package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/alert"
	"github.com/yenshow/ba-backend-sub000/internal/device"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/config"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
	"github.com/yenshow/ba-backend-sub000/internal/notify"
)

type fakeAlertService struct {
	alerts  map[string]*alert.Alert
	history map[string][]alert.HistoryEntry

	lastFilter alert.ListFilter
	lastActor  string
	lastReason string
}

func newFakeAlertService() *fakeAlertService {
	return &fakeAlertService{
		alerts:  make(map[string]*alert.Alert),
		history: make(map[string][]alert.HistoryEntry),
	}
}

func (f *fakeAlertService) add(a *alert.Alert) { f.alerts[a.ID] = a }

func (f *fakeAlertService) GetAlert(_ context.Context, id string) (*alert.Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAlertService) ListAlerts(_ context.Context, filter alert.ListFilter) ([]alert.Alert, error) {
	f.lastFilter = filter
	var out []alert.Alert
	for _, a := range f.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAlertService) ListHistory(_ context.Context, alertID string) ([]alert.HistoryEntry, error) {
	return f.history[alertID], nil
}

func (f *fakeAlertService) CountUnresolved(_ context.Context) (int, error) {
	count := 0
	for _, a := range f.alerts {
		if a.Status == alert.StatusActive {
			count++
		}
	}
	return count, nil
}

func (f *fakeAlertService) UpdateAlertStatusByID(_ context.Context, id string, newStatus alert.Status, actor, reason string) (*alert.Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, alert.ErrAlertNotFound
	}
	if a.Status != alert.StatusActive && newStatus != alert.StatusActive {
		return nil, alert.ErrInvalidTransition
	}
	f.lastActor = actor
	f.lastReason = reason
	a.Status = newStatus
	copied := *a
	return &copied, nil
}

func (f *fakeAlertService) UnignoreAlertByID(_ context.Context, id, actor string) (*alert.Alert, error) {
	return f.UpdateAlertStatusByID(context.Background(), id, alert.StatusActive, actor, "")
}

type fakeRegistry struct {
	devices map[string]*device.Device
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{devices: make(map[string]*device.Device)}
}

func (f *fakeRegistry) List(_ context.Context) ([]device.Device, error) {
	var out []device.Device
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeRegistry) GetDevice(_ context.Context, id string) (*device.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeRegistry) CreateDevice(_ context.Context, d *device.Device) error {
	if _, exists := f.devices[d.ID]; exists {
		return device.ErrDeviceExists
	}
	stored := *d
	f.devices[d.ID] = &stored
	return nil
}

func (f *fakeRegistry) UpdateDevice(_ context.Context, d *device.Device) error {
	if _, ok := f.devices[d.ID]; !ok {
		return device.ErrDeviceNotFound
	}
	stored := *d
	f.devices[d.ID] = &stored
	return nil
}

func (f *fakeRegistry) DeleteDevice(_ context.Context, id string) error {
	if _, ok := f.devices[id]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(f.devices, id)
	return nil
}

func newTestServer(t *testing.T, alerts AlertService, registry DeviceRegistry) *httptest.Server {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	srv, err := New(Deps{
		Logger:   logger,
		Alerts:   alerts,
		Registry: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = notify.NewHub(config.WebSocketConfig{}, logger)
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, v any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf) //nolint:gosec // test URL
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func testAlert(id string, status alert.Status) *alert.Alert {
	return &alert.Alert{
		ID:         id,
		SourceKind: alert.SourceDevice,
		SourceID:   "ahu-1",
		AlertType:  alert.TypeOffline,
		Severity:   alert.SeverityError,
		Status:     status,
		Message:    "AHU 1 has failed 5 consecutive polls and appears offline",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeAlertService(), newFakeRegistry())

	var body map[string]any
	if status := getJSON(t, ts.URL+"/api/v1/health", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestListAlertsStatusFilter(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusActive))
	alerts.add(testAlert("a-2", alert.StatusResolved))
	ts := newTestServer(t, alerts, newFakeRegistry())

	var body struct {
		Alerts []alert.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/alerts/?status=active", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body.Count != 1 || body.Alerts[0].ID != "a-1" {
		t.Fatalf("unexpected body %+v", body)
	}
	if alerts.lastFilter.Status != alert.StatusActive {
		t.Fatalf("filter not forwarded: %+v", alerts.lastFilter)
	}
}

func TestListAlertsRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, newFakeAlertService(), newFakeRegistry())

	if status := getJSON(t, ts.URL+"/api/v1/alerts/?status=nonsense", nil); status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestAlertCount(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusActive))
	alerts.add(testAlert("a-2", alert.StatusActive))
	alerts.add(testAlert("a-3", alert.StatusResolved))
	ts := newTestServer(t, alerts, newFakeRegistry())

	var body map[string]int
	if status := getJSON(t, ts.URL+"/api/v1/alerts/count", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["count"] != 2 {
		t.Fatalf("count = %d, want 2", body["count"])
	}
}

func TestGetAlertNotFound(t *testing.T) {
	ts := newTestServer(t, newFakeAlertService(), newFakeRegistry())

	var body Error
	if status := getJSON(t, ts.URL+"/api/v1/alerts/missing", &body); status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if body.Code != ErrCodeNotFound {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestResolveAlertForwardsActorAndReason(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusActive))
	ts := newTestServer(t, alerts, newFakeRegistry())

	var resolved alert.Alert
	status := postJSON(t, ts.URL+"/api/v1/alerts/a-1/resolve",
		map[string]string{"actor": "facilities", "reason": "filter replaced"}, &resolved)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if resolved.Status != alert.StatusResolved {
		t.Fatalf("alert status = %q", resolved.Status)
	}
	if alerts.lastActor != "facilities" || alerts.lastReason != "filter replaced" {
		t.Fatalf("actor/reason not forwarded: %q %q", alerts.lastActor, alerts.lastReason)
	}
}

func TestIgnoreResolvedAlertConflicts(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusResolved))
	ts := newTestServer(t, alerts, newFakeRegistry())

	status := postJSON(t, ts.URL+"/api/v1/alerts/a-1/ignore", nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
}

func TestUnignoreAlert(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusIgnored))
	ts := newTestServer(t, alerts, newFakeRegistry())

	var body alert.Alert
	status := postJSON(t, ts.URL+"/api/v1/alerts/a-1/unignore",
		map[string]string{"actor": "facilities"}, &body)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body.Status != alert.StatusActive {
		t.Fatalf("alert status = %q, want active", body.Status)
	}
}

func TestDeviceCRUD(t *testing.T) {
	registry := newFakeRegistry()
	ts := newTestServer(t, newFakeAlertService(), registry)

	created := device.Device{
		ID:   "ahu-1",
		Kind: device.KindController,
		Name: "AHU 1",
		Host: "10.0.0.1",
		Port: 502,
	}
	if status := postJSON(t, ts.URL+"/api/v1/devices/", created, nil); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}

	// Duplicate create conflicts.
	if status := postJSON(t, ts.URL+"/api/v1/devices/", created, nil); status != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", status)
	}

	// Partial update leaves unspecified fields intact.
	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/v1/devices/ahu-1",
		bytes.NewBufferString(`{"location":"Roof Plant Room"}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	var got device.Device
	if status := getJSON(t, ts.URL+"/api/v1/devices/ahu-1", &got); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if got.Location != "Roof Plant Room" || got.Name != "AHU 1" {
		t.Fatalf("unexpected device %+v", got)
	}

	// Delete, then 404.
	del, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/devices/ahu-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err = http.DefaultClient.Do(del)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if status := getJSON(t, ts.URL+"/api/v1/devices/ahu-1", nil); status != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", status)
	}
}

func TestSystemStatus(t *testing.T) {
	alerts := newFakeAlertService()
	alerts.add(testAlert("a-1", alert.StatusActive))
	ts := newTestServer(t, alerts, newFakeRegistry())

	var body map[string]any
	if status := getJSON(t, ts.URL+"/api/v1/system/status", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["unresolved_alerts"] != float64(1) {
		t.Fatalf("unresolved_alerts = %v", body["unresolved_alerts"])
	}
}

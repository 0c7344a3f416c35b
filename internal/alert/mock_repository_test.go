package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memRepository is an in-memory Repository for tests. It mirrors the
// store semantics the service relies on, including the active-alert
// uniqueness constraint on insert.
type memRepository struct {
	mu             sync.Mutex
	alerts         map[string]*Alert
	history        []HistoryEntry
	tracking       map[[2]string]*Tracking
	errorRules     map[string]Rule
	thresholdRules map[string][]Rule
}

func newMemRepository() *memRepository {
	return &memRepository{
		alerts:         make(map[string]*Alert),
		tracking:       make(map[[2]string]*Tracking),
		errorRules:     make(map[string]Rule),
		thresholdRules: make(map[string][]Rule),
	}
}

func (m *memRepository) GetByID(_ context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (m *memRepository) GetByKeyAndStatus(_ context.Context, key Key, status Status) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.latest(func(a *Alert) bool { return a.Key() == key && a.Status == status })
	if a == nil {
		return nil, ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (m *memRepository) GetLatestExcludingStatus(_ context.Context, key Key, status Status) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.latest(func(a *Alert) bool { return a.Key() == key && a.Status != status })
	if a == nil {
		return nil, ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (m *memRepository) latest(match func(*Alert) bool) *Alert {
	var best *Alert
	for _, a := range m.alerts {
		if !match(a) {
			continue
		}
		if best == nil || a.UpdatedAt.After(best.UpdatedAt) {
			best = a
		}
	}
	return best
}

func (m *memRepository) List(_ context.Context, f ListFilter) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SourceKind != "" && a.SourceKind != f.SourceKind {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepository) Insert(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Status == StatusActive {
		for _, existing := range m.alerts {
			if existing.Key() == a.Key() && existing.Status == StatusActive {
				return ErrAlertConflict
			}
		}
	}
	c := *a
	m.alerts[a.ID] = &c
	return nil
}

func (m *memRepository) UpdateSeverity(_ context.Context, id string, severity Severity, message string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	a.Severity = severity
	a.Message = message
	a.UpdatedAt = updatedAt
	return nil
}

func (m *memRepository) UpdateStatus(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	c := *a
	m.alerts[a.ID] = &c
	return nil
}

func (m *memRepository) CountUnresolved(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.alerts {
		if a.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (m *memRepository) AppendHistory(_ context.Context, e *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *e)
	return nil
}

func (m *memRepository) ListHistory(_ context.Context, alertID string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.history {
		if e.AlertID == alertID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRepository) GetTracking(_ context.Context, sourceKind, sourceID string) (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracking[[2]string{sourceKind, sourceID}]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (m *memRepository) IncrementTracking(_ context.Context, sourceKind, sourceID, message string, at time.Time) (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]string{sourceKind, sourceID}
	t, ok := m.tracking[k]
	if !ok {
		t = &Tracking{SourceKind: sourceKind, SourceID: sourceID}
		m.tracking[k] = t
	}
	t.ErrorCount++
	t.LastError = message
	stamp := at
	t.LastErrorAt = &stamp
	c := *t
	return &c, nil
}

func (m *memRepository) MarkAlertCreated(_ context.Context, sourceKind, sourceID string, created bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracking[[2]string{sourceKind, sourceID}]; ok {
		t.AlertCreated = created
	}
	return nil
}

func (m *memRepository) ResetTracking(_ context.Context, sourceKind, sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracking[[2]string{sourceKind, sourceID}]
	if !ok || t.ErrorCount == 0 {
		return false, nil
	}
	t.ErrorCount = 0
	t.AlertCreated = false
	t.LastError = ""
	t.LastErrorAt = nil
	return true, nil
}

func (m *memRepository) ErrorCountRule(_ context.Context, alertType string) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.errorRules[alertType]
	if !ok {
		return nil, nil
	}
	c := r
	return &c, nil
}

func (m *memRepository) ThresholdRules(_ context.Context, parameter string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.thresholdRules[parameter]...), nil
}

// mockNotifier records broadcast events for assertions.
type mockNotifier struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	name    string
	payload any
}

func (m *mockNotifier) Broadcast(event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{name: event, payload: payload})
}

func (m *mockNotifier) named(name string) []broadcastEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broadcastEvent
	for _, e := range m.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

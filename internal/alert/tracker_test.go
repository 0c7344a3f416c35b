package alert

import (
	"context"
	"testing"
	"time"
)

// staticResolver resolves every ID to a fixed display name.
type staticResolver struct {
	name     string
	location string
}

func (s staticResolver) Resolve(context.Context, string) (string, string) {
	return s.name, s.location
}

func newTestTracker(repo Repository, svc *Service, threshold int) *Tracker {
	return NewTracker(TrackerDeps{
		Repo:             repo,
		Alerts:           svc,
		Resolver:         staticResolver{name: "Plant Room Controller", location: "Plant Room"},
		DefaultThreshold: threshold,
	})
}

func TestRecordErrorCrossesThresholdOnce(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		created, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "read timed out")
		if err != nil {
			t.Fatalf("RecordError(%d) error: %v", i, err)
		}
		if created {
			t.Fatalf("RecordError(%d) created an alert below threshold", i)
		}
	}

	created, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "read timed out")
	if err != nil {
		t.Fatalf("RecordError(5) error: %v", err)
	}
	if !created {
		t.Fatal("threshold crossing did not create an alert")
	}

	tracking, err := tracker.GetTracking(ctx, SourceDevice, "dev-1")
	if err != nil {
		t.Fatalf("GetTracking() error: %v", err)
	}
	if tracking.ErrorCount != 5 || !tracking.AlertCreated {
		t.Errorf("tracking = count %d created %v, want 5/true", tracking.ErrorCount, tracking.AlertCreated)
	}

	// Further failures must not create a second alert.
	created, err = tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "read timed out")
	if err != nil {
		t.Fatalf("RecordError(6) error: %v", err)
	}
	if created {
		t.Error("a second alert was created past the threshold")
	}

	active, _ := svc.ListAlerts(ctx, ListFilter{Status: StatusActive})
	if len(active) != 1 {
		t.Errorf("active alerts = %d, want exactly 1", len(active))
	}
	if active[0].Severity != SeverityWarning {
		t.Errorf("default severity = %s, want warning", active[0].Severity)
	}
}

func TestClearErrorResolvesAndIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	for range 5 {
		if _, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "unreachable"); err != nil {
			t.Fatalf("RecordError() error: %v", err)
		}
	}

	alertRow, err := svc.ActiveAlert(ctx, Key{SourceKind: SourceDevice, SourceID: "dev-1", AlertType: TypeOffline})
	if err != nil {
		t.Fatalf("ActiveAlert() error: %v", err)
	}

	cleared, err := tracker.ClearError(ctx, SourceDevice, "dev-1")
	if err != nil {
		t.Fatalf("ClearError() error: %v", err)
	}
	if !cleared {
		t.Fatal("ClearError() = false after real failures")
	}

	tracking, _ := tracker.GetTracking(ctx, SourceDevice, "dev-1")
	if tracking.ErrorCount != 0 || tracking.AlertCreated || tracking.LastErrorAt != nil {
		t.Errorf("tracking not reset: %+v", tracking)
	}

	resolved, err := svc.GetAlert(ctx, alertRow.ID)
	if err != nil {
		t.Fatalf("GetAlert() error: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("Status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolutionReason != "automatic recovery" {
		t.Errorf("ResolutionReason = %q, want automatic recovery", resolved.ResolutionReason)
	}
	if resolved.ResolvedBy != "" {
		t.Errorf("ResolvedBy = %q, want empty (system actor)", resolved.ResolvedBy)
	}

	history, _ := svc.ListHistory(ctx, alertRow.ID)
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}

	// A second clear on a healthy source is a no-op.
	cleared, err = tracker.ClearError(ctx, SourceDevice, "dev-1")
	if err != nil {
		t.Fatalf("second ClearError() error: %v", err)
	}
	if cleared {
		t.Error("ClearError() = true on already-healthy source")
	}
	if history, _ = svc.ListHistory(ctx, alertRow.ID); len(history) != 1 {
		t.Errorf("no-op clear appended history: %d rows", len(history))
	}
}

func TestClearErrorLeavesIgnoredAlertAlone(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 3)
	ctx := context.Background()

	key := Key{SourceKind: SourceDevice, SourceID: "dev-1", AlertType: TypeOffline}

	for range 3 {
		if _, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "unreachable"); err != nil {
			t.Fatalf("RecordError() error: %v", err)
		}
	}
	if _, err := svc.IgnoreAlert(ctx, key, "operator"); err != nil {
		t.Fatalf("IgnoreAlert() error: %v", err)
	}

	// Recovery while the alert is ignored resets the counter but must
	// not touch the suppressed row.
	cleared, err := tracker.ClearError(ctx, SourceDevice, "dev-1")
	if err != nil {
		t.Fatalf("ClearError() on ignored alert error: %v", err)
	}
	if !cleared {
		t.Fatal("ClearError() = false after real failures")
	}

	ignored, err := svc.ListAlerts(ctx, ListFilter{Status: StatusIgnored})
	if err != nil {
		t.Fatalf("ListAlerts() error: %v", err)
	}
	if len(ignored) != 1 {
		t.Fatalf("ignored alerts = %d, want 1", len(ignored))
	}

	// Unignoring the recovered source resolves the alert immediately.
	resolved, err := svc.UnignoreAlert(ctx, key, "operator")
	if err != nil {
		t.Fatalf("UnignoreAlert() error: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("Status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolutionReason != "recovered while ignored" {
		t.Errorf("ResolutionReason = %q, want recovered while ignored", resolved.ResolutionReason)
	}
}

func TestRecordErrorSuppressedByIgnore(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	for range 5 {
		if _, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "unreachable"); err != nil {
			t.Fatalf("RecordError() error: %v", err)
		}
	}
	key := Key{SourceKind: SourceDevice, SourceID: "dev-1", AlertType: TypeOffline}
	if _, err := svc.IgnoreAlert(ctx, key, "operator"); err != nil {
		t.Fatalf("IgnoreAlert() error: %v", err)
	}

	before, _ := tracker.GetTracking(ctx, SourceDevice, "dev-1")

	for i := range 10 {
		created, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "unreachable")
		if err != nil {
			t.Fatalf("RecordError(%d) while ignored error: %v", i, err)
		}
		if created {
			t.Fatalf("RecordError(%d) created an alert despite suppression", i)
		}
	}

	after, _ := tracker.GetTracking(ctx, SourceDevice, "dev-1")
	if after.ErrorCount != before.ErrorCount {
		t.Errorf("suppressed failures changed the counter: %d -> %d", before.ErrorCount, after.ErrorCount)
	}

	alerts, _ := svc.ListAlerts(ctx, ListFilter{})
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1 (the ignored one)", len(alerts))
	}
}

func TestRecordErrorUsesRule(t *testing.T) {
	repo := newMemRepository()
	repo.errorRules[TypeOffline] = Rule{
		ID:              "rule-offline",
		Kind:            RuleErrorCount,
		AlertType:       TypeOffline,
		ErrorCount:      3,
		Severity:        SeverityError,
		MessageTemplate: "{name} has failed {count} consecutive polls and appears offline",
		Enabled:         true,
	}
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	var created bool
	for i := range 3 {
		var err error
		created, err = tracker.RecordError(ctx, SourceDevice, "dev-1", TypeOffline, "timeout")
		if err != nil {
			t.Fatalf("RecordError(%d) error: %v", i, err)
		}
	}
	if !created {
		t.Fatal("rule threshold of 3 did not trigger on the third failure")
	}

	a, err := svc.ActiveAlert(ctx, Key{SourceKind: SourceDevice, SourceID: "dev-1", AlertType: TypeOffline})
	if err != nil {
		t.Fatalf("ActiveAlert() error: %v", err)
	}
	if a.Severity != SeverityError {
		t.Errorf("Severity = %s, want error (from rule)", a.Severity)
	}
	want := "Plant Room Controller has failed 3 consecutive polls and appears offline"
	if a.Message != want {
		t.Errorf("Message = %q, want %q", a.Message, want)
	}
}

func TestRecordErrorThresholdOverride(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	created, err := tracker.RecordErrorWithThreshold(ctx, SourceDevice, "dev-2", TypeOffline, "timeout", 1)
	if err != nil {
		t.Fatalf("RecordErrorWithThreshold() error: %v", err)
	}
	if !created {
		t.Error("override threshold of 1 did not trigger on the first failure")
	}
}

func TestClearErrorWithoutTracking(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)

	cleared, err := tracker.ClearError(context.Background(), SourceDevice, "ghost")
	if err != nil {
		t.Fatalf("ClearError() error: %v", err)
	}
	if cleared {
		t.Error("ClearError() = true for a source with no tracking record")
	}
}

func TestTrackingTimestamps(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo, nil)
	defer svc.Close()
	tracker := newTestTracker(repo, svc, 5)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if _, err := tracker.RecordError(ctx, SourceDevice, "dev-1", TypeError, "bad response"); err != nil {
		t.Fatalf("RecordError() error: %v", err)
	}

	tracking, _ := tracker.GetTracking(ctx, SourceDevice, "dev-1")
	if tracking.LastErrorAt == nil || tracking.LastErrorAt.Before(before) {
		t.Error("last_error_at not stamped")
	}
	if tracking.LastError != "bad response" {
		t.Errorf("last_error = %q", tracking.LastError)
	}
}

package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
)

// DefaultErrorThreshold is the consecutive-failure count that raises
// an alert when no rule overrides it.
const DefaultErrorThreshold = 5

// autoRecoveryReason tags resolutions performed by the tracker when a
// source recovers on its own.
const autoRecoveryReason = "automatic recovery"

// defaultClearTypes are the alert types resolved when ClearError is
// called without naming one: a recovering source clears both its
// offline and error alerts.
var defaultClearTypes = []string{TypeOffline, TypeError}

// ReferenceResolver maps a source ID to display metadata for message
// templating. Implemented by the device registry.
type ReferenceResolver interface {
	Resolve(ctx context.Context, id string) (name, location string)
}

// TrackerDeps holds the tracker's collaborators.
type TrackerDeps struct {
	Repo     Repository
	Alerts   *Service
	Resolver ReferenceResolver // optional; IDs render as-is without it
	Logger   *logging.Logger

	// DefaultThreshold overrides the built-in failure threshold.
	// Zero uses DefaultErrorThreshold.
	DefaultThreshold int
}

// Tracker maintains the durable per-source consecutive-failure
// counters and decides when accumulated failures cross a threshold
// and an alert must be raised or cleared.
//
// Thread Safety: all methods are safe for concurrent use; the counter
// mutations are atomic at the store layer.
type Tracker struct {
	repo             Repository
	alerts           *Service
	resolver         ReferenceResolver
	logger           *logging.Logger
	defaultThreshold int
	now              func() time.Time
}

// NewTracker creates the error tracker.
func NewTracker(deps TrackerDeps) *Tracker {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	threshold := deps.DefaultThreshold
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	return &Tracker{
		repo:             deps.Repo,
		alerts:           deps.Alerts,
		resolver:         deps.Resolver,
		logger:           logger,
		defaultThreshold: threshold,
		now:              time.Now,
	}
}

// RecordError registers one failure for a source and reports whether
// this call crossed the threshold and created an alert.
//
// An existing IGNORED alert for the key suppresses everything: no
// counter change, no alert. The applicable threshold comes from the
// enabled error-count rule for the alert type, falling back to the
// configured default.
func (t *Tracker) RecordError(ctx context.Context, sourceKind, sourceID, alertType, message string) (bool, error) {
	return t.recordError(ctx, sourceKind, sourceID, alertType, message, 0)
}

// RecordErrorWithThreshold is RecordError with a per-source threshold
// override (a device-level setting). Zero falls back to rule/default.
func (t *Tracker) RecordErrorWithThreshold(ctx context.Context, sourceKind, sourceID, alertType, message string, threshold int) (bool, error) {
	return t.recordError(ctx, sourceKind, sourceID, alertType, message, threshold)
}

func (t *Tracker) recordError(ctx context.Context, sourceKind, sourceID, alertType, message string, override int) (bool, error) {
	key := Key{SourceKind: sourceKind, SourceID: sourceID, AlertType: alertType}

	// User suppression wins before anything is counted.
	_, err := t.repo.GetByKeyAndStatus(ctx, key, StatusIgnored)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrAlertNotFound) {
		return false, err
	}

	tracking, err := t.repo.IncrementTracking(ctx, sourceKind, sourceID, message, t.now().UTC())
	if err != nil {
		return false, err
	}

	rule, err := t.repo.ErrorCountRule(ctx, alertType)
	if err != nil {
		return false, err
	}

	threshold := t.defaultThreshold
	if rule != nil && rule.ErrorCount > 0 {
		threshold = rule.ErrorCount
	}
	if override > 0 {
		threshold = override
	}

	if tracking.ErrorCount < threshold || tracking.AlertCreated {
		return false, nil
	}

	severity := SeverityWarning
	if rule != nil && rule.Severity.Valid() {
		severity = rule.Severity
	}

	rendered := t.renderMessage(ctx, rule, sourceID, tracking.ErrorCount, message)
	if _, err := t.alerts.CreateAlert(ctx, key, severity, rendered); err != nil {
		return false, err
	}
	if err := t.repo.MarkAlertCreated(ctx, sourceKind, sourceID, true); err != nil {
		return false, err
	}

	t.logger.Warn("failure threshold crossed",
		"source_kind", sourceKind,
		"source_id", sourceID,
		"alert_type", alertType,
		"error_count", tracking.ErrorCount,
		"threshold", threshold)
	return true, nil
}

// ClearError resets a source's failure counter after a successful
// poll and resolves any alert this tracker raised. Returns whether a
// counter was actually reset, distinguishing "recovered" from
// "already healthy" so callers can avoid redundant notifications.
//
// Without explicit alert types, both offline and error alerts are
// resolved. Only ACTIVE alerts are touched: an operator-ignored alert
// stays ignored until unignored, which resolves it on its own once the
// counter shows the source recovered.
func (t *Tracker) ClearError(ctx context.Context, sourceKind, sourceID string, alertTypes ...string) (bool, error) {
	tracking, err := t.repo.GetTracking(ctx, sourceKind, sourceID)
	if err != nil {
		return false, err
	}
	if tracking == nil || tracking.ErrorCount == 0 {
		return false, nil
	}

	didClear, err := t.repo.ResetTracking(ctx, sourceKind, sourceID)
	if err != nil {
		return false, err
	}

	if tracking.AlertCreated {
		types := alertTypes
		if len(types) == 0 {
			types = defaultClearTypes
		}
		for _, alertType := range types {
			key := Key{SourceKind: sourceKind, SourceID: sourceID, AlertType: alertType}
			active, err := t.alerts.ActiveAlert(ctx, key)
			if err != nil {
				if errors.Is(err, ErrAlertNotFound) {
					continue // nothing active, or suppressed by an operator
				}
				return didClear, err
			}
			if _, err := t.alerts.UpdateAlertStatusByID(ctx, active.ID, StatusResolved, "", autoRecoveryReason); err != nil {
				return didClear, err
			}
		}
	}

	if didClear {
		t.logger.Info("source recovered",
			"source_kind", sourceKind,
			"source_id", sourceID,
			"cleared_count", tracking.ErrorCount)
	}
	return didClear, nil
}

// GetTracking returns the failure counter for a source, or nil when
// none exists yet.
func (t *Tracker) GetTracking(ctx context.Context, sourceKind, sourceID string) (*Tracking, error) {
	return t.repo.GetTracking(ctx, sourceKind, sourceID)
}

// renderMessage builds the alert message from the rule template or a
// plain default sentence.
func (t *Tracker) renderMessage(ctx context.Context, rule *Rule, sourceID string, count int, lastError string) string {
	name, location := sourceID, ""
	if t.resolver != nil {
		name, location = t.resolver.Resolve(ctx, sourceID)
	}

	if rule != nil && rule.MessageTemplate != "" {
		return RenderTemplate(rule.MessageTemplate, map[string]string{
			"name":     name,
			"location": location,
			"count":    fmt.Sprintf("%d", count),
			"error":    lastError,
		})
	}
	return fmt.Sprintf("%s failed %d times", name, count)
}

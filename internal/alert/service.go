package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
)

// Notification event names published by the service.
const (
	EventAlertNew     = "alert:new"
	EventAlertUpdated = "alert:updated"
	EventAlertCount   = "alert:count"
)

// defaultRecountDebounce coalesces recount triggers during batch
// polling into a single count broadcast.
const defaultRecountDebounce = 500 * time.Millisecond

// recountTimeout bounds the deferred recount query.
const recountTimeout = 5 * time.Second

// createRetries bounds the insert/update race loop in CreateAlert.
const createRetries = 3

// Broadcaster is the notification channel the service publishes to.
// Fire-and-forget; no acknowledgement.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Deps holds the service's collaborators.
type Deps struct {
	Repo     Repository
	Notifier Broadcaster // optional
	Logger   *logging.Logger

	// RecountDebounce overrides the unresolved-count coalescing
	// window. Zero uses the default of 500ms.
	RecountDebounce time.Duration
}

// Service owns the alert state machine.
//
// It enforces the one-active-alert-per-key invariant by leaning on the
// store's partial unique index: an insert that loses the race is
// retried as an update, so the end state under concurrent creators is
// exactly one ACTIVE row per key. Severity only ever escalates in
// place; repeated identical signals are no-ops that do not touch
// updated_at.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	repo     Repository
	notifier Broadcaster
	logger   *logging.Logger

	genID func() string
	now   func() time.Time

	debounce      time.Duration
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	closed        bool
}

// NewService creates the alert lifecycle service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	debounce := deps.RecountDebounce
	if debounce == 0 {
		debounce = defaultRecountDebounce
	}
	return &Service{
		repo:     deps.Repo,
		notifier: deps.Notifier,
		logger:   logger,
		genID:    uuid.NewString,
		now:      time.Now,
		debounce: debounce,
	}
}

// Close stops the pending recount timer, if any.
func (s *Service) Close() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	s.closed = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

// CreateAlert raises or escalates an alert for a key.
//
// Behaviour, in order:
//  1. An IGNORED alert for the key suppresses the signal entirely;
//     the ignored row is returned unchanged.
//  2. An ACTIVE alert for the key is escalated in place when the new
//     severity strictly outranks the current one; otherwise it is
//     returned unchanged with no write.
//  3. Otherwise a new ACTIVE alert is inserted. Losing the insert
//     race against a concurrent creator retries from step 2.
func (s *Service) CreateAlert(ctx context.Context, key Key, severity Severity, message string) (*Alert, error) {
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, severity)
	}

	for range createRetries {
		ignored, err := s.repo.GetByKeyAndStatus(ctx, key, StatusIgnored)
		if err == nil {
			return ignored, nil
		}
		if !errors.Is(err, ErrAlertNotFound) {
			return nil, err
		}

		existing, err := s.repo.GetByKeyAndStatus(ctx, key, StatusActive)
		if err == nil {
			return s.escalate(ctx, existing, severity, message)
		}
		if !errors.Is(err, ErrAlertNotFound) {
			return nil, err
		}

		now := s.now().UTC()
		a := &Alert{
			ID:         s.genID(),
			SourceKind: key.SourceKind,
			SourceID:   key.SourceID,
			AlertType:  key.AlertType,
			Severity:   severity,
			Status:     StatusActive,
			Message:    message,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = s.repo.Insert(ctx, a)
		if err == nil {
			s.logger.Info("alert created",
				"alert_id", a.ID,
				"source_kind", a.SourceKind,
				"source_id", a.SourceID,
				"alert_type", a.AlertType,
				"severity", a.Severity)
			s.broadcast(EventAlertNew, a)
			s.scheduleRecount()
			return a, nil
		}
		if !errors.Is(err, ErrAlertConflict) {
			return nil, err
		}
		// Someone else created the active row between our lookup and
		// insert; treat theirs as the current alert and retry as an
		// update.
	}
	return nil, ErrAlertConflict
}

// escalate bumps an active alert's severity in place, never downgrading.
func (s *Service) escalate(ctx context.Context, existing *Alert, severity Severity, message string) (*Alert, error) {
	if !severity.MoreSevereThan(existing.Severity) {
		return existing, nil
	}

	now := s.now().UTC()
	if err := s.repo.UpdateSeverity(ctx, existing.ID, severity, message, now); err != nil {
		return nil, err
	}
	existing.Severity = severity
	existing.Message = message
	existing.UpdatedAt = now

	s.logger.Info("alert escalated",
		"alert_id", existing.ID,
		"severity", severity)
	s.broadcast(EventAlertUpdated, existing)
	s.scheduleRecount()
	return existing, nil
}

// UpdateAlertStatus transitions the current alert for a key into
// newStatus. It locates the most recent row whose status differs from
// the target, applies the lifecycle metadata for the new state, logs
// a history entry and broadcasts the update.
//
// Returns ErrAlertNotFound when no row is in a position to transition;
// callers for whom "nothing to update" is benign swallow that error.
func (s *Service) UpdateAlertStatus(ctx context.Context, key Key, newStatus Status, actor, reason string) (*Alert, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	a, err := s.repo.GetLatestExcludingStatus(ctx, key, newStatus)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, a, newStatus, actor, reason)
}

// UpdateAlertStatusByID transitions one specific alert. Used by the
// operator-facing API where the caller addresses alerts by ID.
// A no-op when the alert is already in the target status.
func (s *Service) UpdateAlertStatusByID(ctx context.Context, id string, newStatus Status, actor, reason string) (*Alert, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == newStatus {
		return a, nil
	}
	return s.transition(ctx, a, newStatus, actor, reason)
}

func (s *Service) transition(ctx context.Context, a *Alert, newStatus Status, actor, reason string) (*Alert, error) {
	oldStatus := a.Status

	// Resolved and ignored never convert directly; both reactivate
	// through active first.
	if oldStatus != StatusActive && newStatus != StatusActive {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, oldStatus, newStatus)
	}

	now := s.now().UTC()
	applyStatus(a, newStatus, actor, reason, now)

	if err := s.repo.UpdateStatus(ctx, a); err != nil {
		return nil, err
	}

	entry := &HistoryEntry{
		ID:        s.genID(),
		AlertID:   a.ID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ChangedBy: actor,
		Reason:    reason,
		ChangedAt: now,
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("alert status changed",
		"alert_id", a.ID,
		"old_status", oldStatus,
		"new_status", newStatus,
		"actor", actor)
	s.broadcast(EventAlertUpdated, a)
	s.scheduleRecount()
	return a, nil
}

// applyStatus writes the lifecycle metadata for the target state and
// clears the metadata of the states being left.
func applyStatus(a *Alert, status Status, actor, reason string, at time.Time) {
	a.Status = status
	a.UpdatedAt = at

	a.ResolvedAt = nil
	a.ResolvedBy = ""
	a.ResolutionReason = ""
	a.IgnoredAt = nil
	a.IgnoredBy = ""

	switch status {
	case StatusResolved:
		a.ResolvedAt = &at
		a.ResolvedBy = actor
		a.ResolutionReason = reason
	case StatusIgnored:
		a.IgnoredAt = &at
		a.IgnoredBy = actor
	case StatusActive:
		// Reactivation clears everything, done above.
	}
}

// ResolveAlert resolves the active alert for a key.
func (s *Service) ResolveAlert(ctx context.Context, key Key, actor, reason string) (*Alert, error) {
	return s.UpdateAlertStatus(ctx, key, StatusResolved, actor, reason)
}

// IgnoreAlert suppresses the active alert for a key.
func (s *Service) IgnoreAlert(ctx context.Context, key Key, actor string) (*Alert, error) {
	return s.UpdateAlertStatus(ctx, key, StatusIgnored, actor, "")
}

// UnignoreAlert reactivates an ignored alert. When the underlying
// failure counter already shows zero errors, the reactivated alert is
// resolved immediately instead of lingering active for a condition
// that has recovered.
func (s *Service) UnignoreAlert(ctx context.Context, key Key, actor string) (*Alert, error) {
	a, err := s.UpdateAlertStatus(ctx, key, StatusActive, actor, "")
	if err != nil {
		return nil, err
	}

	tracking, err := s.repo.GetTracking(ctx, key.SourceKind, key.SourceID)
	if err != nil {
		return nil, err
	}
	if tracking == nil || tracking.ErrorCount == 0 {
		return s.transition(ctx, a, StatusResolved, actor, "recovered while ignored")
	}
	return a, nil
}

// UnignoreAlertByID is the ID-addressed variant used by the API.
func (s *Service) UnignoreAlertByID(ctx context.Context, id, actor string) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusIgnored {
		return a, nil
	}
	return s.UnignoreAlert(ctx, a.Key(), actor)
}

// ActiveAlert returns the current ACTIVE alert for a key, or
// ErrAlertNotFound.
func (s *Service) ActiveAlert(ctx context.Context, key Key) (*Alert, error) {
	return s.repo.GetByKeyAndStatus(ctx, key, StatusActive)
}

// GetAlert returns one alert by ID.
func (s *Service) GetAlert(ctx context.Context, id string) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Service) ListAlerts(ctx context.Context, f ListFilter) ([]Alert, error) {
	return s.repo.List(ctx, f)
}

// ListHistory returns the transition log for one alert.
func (s *Service) ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, alertID)
}

// CountUnresolved returns the number of ACTIVE alerts.
func (s *Service) CountUnresolved(ctx context.Context) (int, error) {
	return s.repo.CountUnresolved(ctx)
}

// scheduleRecount arms the debounced unresolved recount. Each trigger
// resets the single shared timer; only the last trigger within the
// window performs the count and broadcast.
func (s *Service) scheduleRecount() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.closed {
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.recount)
}

func (s *Service) recount() {
	ctx, cancel := context.WithTimeout(context.Background(), recountTimeout)
	defer cancel()

	count, err := s.repo.CountUnresolved(ctx)
	if err != nil {
		s.logger.Error("unresolved alert recount failed", "error", err)
		return
	}
	s.broadcast(EventAlertCount, map[string]int{"count": count})
}

func (s *Service) broadcast(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

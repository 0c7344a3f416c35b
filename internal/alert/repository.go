package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListFilter narrows List results.
type ListFilter struct {
	Status     Status // zero value means all statuses
	SourceKind string
	Limit      int
	Offset     int
}

// Repository defines the persistence interface for alerts, the
// tracking counters and the rule reference data. A single interface
// because the three live in one transactional store and the service
// layer crosses between them.
type Repository interface {
	// GetByID retrieves an alert by primary key.
	// Returns ErrAlertNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Alert, error)

	// GetByKeyAndStatus retrieves the most recent alert for a key in
	// the given status. Returns ErrAlertNotFound when none matches.
	GetByKeyAndStatus(ctx context.Context, key Key, status Status) (*Alert, error)

	// GetLatestExcludingStatus retrieves the most recent alert for a
	// key whose status differs from the given one. Used by status
	// updates to locate the row to transition.
	GetLatestExcludingStatus(ctx context.Context, key Key, status Status) (*Alert, error)

	// List retrieves alerts matching the filter, newest first.
	List(ctx context.Context, f ListFilter) ([]Alert, error)

	// Insert stores a new alert. Returns ErrAlertConflict when an
	// ACTIVE alert for the same key already exists (the partial
	// unique index fired).
	Insert(ctx context.Context, a *Alert) error

	// UpdateSeverity escalates an active alert in place.
	UpdateSeverity(ctx context.Context, id string, severity Severity, message string, updatedAt time.Time) error

	// UpdateStatus writes the alert's status and lifecycle metadata.
	UpdateStatus(ctx context.Context, a *Alert) error

	// CountUnresolved returns the number of ACTIVE alerts.
	CountUnresolved(ctx context.Context) (int, error)

	// AppendHistory stores one status transition record.
	AppendHistory(ctx context.Context, e *HistoryEntry) error

	// ListHistory returns the transition log for one alert, oldest
	// first.
	ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error)

	// GetTracking returns the failure counter for a source, or
	// (nil, nil) if none has been created yet.
	GetTracking(ctx context.Context, sourceKind, sourceID string) (*Tracking, error)

	// IncrementTracking creates the counter row if absent, increments
	// it, stamps the failure, and returns the updated state.
	IncrementTracking(ctx context.Context, sourceKind, sourceID, message string, at time.Time) (*Tracking, error)

	// MarkAlertCreated flips the alert_created flag on a counter.
	MarkAlertCreated(ctx context.Context, sourceKind, sourceID string, created bool) error

	// ResetTracking zeroes a counter and clears its failure metadata.
	// Returns true when the count was actually above zero.
	ResetTracking(ctx context.Context, sourceKind, sourceID string) (bool, error)

	// ErrorCountRule returns the enabled consecutive-failure rule for
	// an alert type, or (nil, nil) when none is configured.
	ErrorCountRule(ctx context.Context, alertType string) (*Rule, error)

	// ThresholdRules returns the enabled threshold rules for a
	// parameter.
	ThresholdRules(ctx context.Context, parameter string) ([]Rule, error)
}

// SQLiteRepository implements Repository using SQLite. The one-active-
// alert invariant is realised by the partial unique index on
// (source_kind, source_id, alert_type) WHERE status = 'active';
// concurrent creators fall through to the conflict path rather than
// both inserting.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alertColumns = `id, source_kind, source_id, alert_type, severity, status, message,
	created_at, updated_at, resolved_at, resolved_by, resolution_reason, ignored_at, ignored_by`

// GetByID retrieves an alert by primary key.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert by id: %w", err)
	}
	return a, nil
}

// GetByKeyAndStatus retrieves the most recent alert for a key in the
// given status.
func (r *SQLiteRepository) GetByKeyAndStatus(ctx context.Context, key Key, status Status) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE source_kind = ? AND source_id = ? AND alert_type = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, key.SourceKind, key.SourceID, key.AlertType, string(status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert by key: %w", err)
	}
	return a, nil
}

// GetLatestExcludingStatus retrieves the most recent alert for a key
// whose status differs from the given one.
func (r *SQLiteRepository) GetLatestExcludingStatus(ctx context.Context, key Key, status Status) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE source_kind = ? AND source_id = ? AND alert_type = ? AND status != ?
		ORDER BY updated_at DESC LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, key.SourceKind, key.SourceID, key.AlertType, string(status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert by key: %w", err)
	}
	return a, nil
}

// List retrieves alerts matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f ListFilter) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SourceKind != "" {
		conds = append(conds, "source_kind = ?")
		args = append(args, f.SourceKind)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

// Insert stores a new alert.
func (r *SQLiteRepository) Insert(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.SourceKind,
		a.SourceID,
		a.AlertType,
		string(a.Severity),
		string(a.Status),
		a.Message,
		a.CreatedAt.Format(time.RFC3339),
		a.UpdatedAt.Format(time.RFC3339),
		nullableTime(a.ResolvedAt),
		nullableString(a.ResolvedBy),
		nullableString(a.ResolutionReason),
		nullableTime(a.IgnoredAt),
		nullableString(a.IgnoredBy),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlertConflict
		}
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// UpdateSeverity escalates an active alert in place.
func (r *SQLiteRepository) UpdateSeverity(ctx context.Context, id string, severity Severity, message string, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET severity = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(severity), message, updatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating alert severity: %w", err)
	}
	return checkAffected(result)
}

// UpdateStatus writes the alert's status and lifecycle metadata.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, a *Alert) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ?,
			resolved_at = ?, resolved_by = ?, resolution_reason = ?,
			ignored_at = ?, ignored_by = ?
		WHERE id = ?`,
		string(a.Status),
		a.UpdatedAt.Format(time.RFC3339),
		nullableTime(a.ResolvedAt),
		nullableString(a.ResolvedBy),
		nullableString(a.ResolutionReason),
		nullableTime(a.IgnoredAt),
		nullableString(a.IgnoredBy),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert status: %w", err)
	}
	return checkAffected(result)
}

// CountUnresolved returns the number of ACTIVE alerts.
func (r *SQLiteRepository) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status = ?`, string(StatusActive),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved alerts: %w", err)
	}
	return count, nil
}

// AppendHistory stores one status transition record.
func (r *SQLiteRepository) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_history (id, alert_id, old_status, new_status, changed_by, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.AlertID,
		string(e.OldStatus),
		string(e.NewStatus),
		nullableString(e.ChangedBy),
		nullableString(e.Reason),
		e.ChangedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting alert history: %w", err)
	}
	return nil
}

// ListHistory returns the transition log for one alert, oldest first.
func (r *SQLiteRepository) ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, alert_id, old_status, new_status, changed_by, reason, changed_at
		FROM alert_history WHERE alert_id = ? ORDER BY changed_at ASC`, alertID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alert history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e         HistoryEntry
			oldStatus string
			newStatus string
			changedBy sql.NullString
			reason    sql.NullString
			changedAt string
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &oldStatus, &newStatus, &changedBy, &reason, &changedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.OldStatus = Status(oldStatus)
		e.NewStatus = Status(newStatus)
		e.ChangedBy = changedBy.String
		e.Reason = reason.String
		if e.ChangedAt, err = time.Parse(time.RFC3339, changedAt); err != nil {
			return nil, fmt.Errorf("parsing changed_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// GetTracking returns the failure counter for a source, or (nil, nil)
// if none has been created yet.
func (r *SQLiteRepository) GetTracking(ctx context.Context, sourceKind, sourceID string) (*Tracking, error) {
	var (
		t           Tracking
		alertMade   int
		lastError   sql.NullString
		lastErrorAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT source_kind, source_id, error_count, alert_created, last_error, last_error_at
		FROM error_tracking WHERE source_kind = ? AND source_id = ?`,
		sourceKind, sourceID,
	).Scan(&t.SourceKind, &t.SourceID, &t.ErrorCount, &alertMade, &lastError, &lastErrorAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tracking: %w", err)
	}
	t.AlertCreated = alertMade != 0
	t.LastError = lastError.String
	if lastErrorAt.Valid {
		parsed, err := time.Parse(time.RFC3339, lastErrorAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_error_at: %w", err)
		}
		t.LastErrorAt = &parsed
	}
	return &t, nil
}

// IncrementTracking creates the counter row if absent, increments it
// and stamps the failure. The conditional insert plus atomic UPDATE
// is safe under the single-writer connection and idempotent per call.
func (r *SQLiteRepository) IncrementTracking(ctx context.Context, sourceKind, sourceID, message string, at time.Time) (*Tracking, error) {
	stamp := at.Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO error_tracking (source_kind, source_id, error_count, alert_created, first_error_at)
		VALUES (?, ?, 0, 0, ?)`,
		sourceKind, sourceID, stamp,
	)
	if err != nil {
		return nil, fmt.Errorf("creating tracking: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE error_tracking
		SET error_count = error_count + 1, last_error = ?, last_error_at = ?
		WHERE source_kind = ? AND source_id = ?`,
		message, stamp, sourceKind, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("incrementing tracking: %w", err)
	}

	return r.GetTracking(ctx, sourceKind, sourceID)
}

// MarkAlertCreated flips the alert_created flag on a counter.
func (r *SQLiteRepository) MarkAlertCreated(ctx context.Context, sourceKind, sourceID string, created bool) error {
	flag := 0
	if created {
		flag = 1
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE error_tracking SET alert_created = ? WHERE source_kind = ? AND source_id = ?`,
		flag, sourceKind, sourceID,
	)
	if err != nil {
		return fmt.Errorf("marking tracking: %w", err)
	}
	return nil
}

// ResetTracking zeroes a counter and clears its failure metadata.
func (r *SQLiteRepository) ResetTracking(ctx context.Context, sourceKind, sourceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE error_tracking
		SET error_count = 0, alert_created = 0, last_error = NULL, last_error_at = NULL
		WHERE source_kind = ? AND source_id = ? AND error_count > 0`,
		sourceKind, sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("resetting tracking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reset result: %w", err)
	}
	return rows > 0, nil
}

// ErrorCountRule returns the enabled consecutive-failure rule for an
// alert type, or (nil, nil) when none is configured.
func (r *SQLiteRepository) ErrorCountRule(ctx context.Context, alertType string) (*Rule, error) {
	rules, err := r.queryRules(ctx,
		`WHERE rule_kind = ? AND alert_type = ? AND enabled = 1 LIMIT 1`,
		string(RuleErrorCount), alertType,
	)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return &rules[0], nil
}

// ThresholdRules returns the enabled threshold rules for a parameter.
func (r *SQLiteRepository) ThresholdRules(ctx context.Context, parameter string) ([]Rule, error) {
	return r.queryRules(ctx,
		`WHERE rule_kind = ? AND parameter = ? AND enabled = 1`,
		string(RuleThreshold), parameter,
	)
}

func (r *SQLiteRepository) queryRules(ctx context.Context, where string, args ...any) ([]Rule, error) {
	query := `SELECT id, rule_kind, alert_type, parameter, operator, threshold, error_count,
		severity, message_template, enabled
		FROM alert_rules ` + where

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule       Rule
			kind       string
			parameter  sql.NullString
			operator   sql.NullString
			threshold  sql.NullFloat64
			errorCount sql.NullInt64
			severity   string
			enabled    int
		)
		if err := rows.Scan(&rule.ID, &kind, &rule.AlertType, &parameter, &operator,
			&threshold, &errorCount, &severity, &rule.MessageTemplate, &enabled); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rule.Kind = RuleKind(kind)
		rule.Parameter = parameter.String
		rule.Operator = operator.String
		rule.Threshold = threshold.Float64
		rule.ErrorCount = int(errorCount.Int64)
		rule.Severity = Severity(severity)
		rule.Enabled = enabled != 0
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(scanner rowScanner) (*Alert, error) {
	var (
		a                Alert
		severity         string
		status           string
		createdAt        string
		updatedAt        string
		resolvedAt       sql.NullString
		resolvedBy       sql.NullString
		resolutionReason sql.NullString
		ignoredAt        sql.NullString
		ignoredBy        sql.NullString
	)

	err := scanner.Scan(
		&a.ID,
		&a.SourceKind,
		&a.SourceID,
		&a.AlertType,
		&severity,
		&status,
		&a.Message,
		&createdAt,
		&updatedAt,
		&resolvedAt,
		&resolvedBy,
		&resolutionReason,
		&ignoredAt,
		&ignoredBy,
	)
	if err != nil {
		return nil, err
	}

	a.Severity = Severity(severity)
	a.Status = Status(status)
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if a.ResolvedAt, err = parseNullableTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parsing resolved_at: %w", err)
	}
	a.ResolvedBy = resolvedBy.String
	a.ResolutionReason = resolutionReason.String
	if a.IgnoredAt, err = parseNullableTime(ignoredAt); err != nil {
		return nil, fmt.Errorf("parsing ignored_at: %w", err)
	}
	a.IgnoredBy = ignoredBy.String
	return &a, nil
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique
// constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

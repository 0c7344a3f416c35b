package alert

import "time"

// Severity is the ranked condition level of an alert.
type Severity string

// Severities, least to most severe.
const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank returns the canonical severity order: warning(1) < error(2) <
// critical(3). A higher rank is more severe. This is the single
// ranking used everywhere; escalation compares ranks and never
// downgrades.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// MoreSevereThan reports whether s outranks other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s.Rank() > other.Rank()
}

// Status is the lifecycle state of an alert.
type Status string

// Alert lifecycle states.
const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Key is the composite identity of an alert while it is active: at
// most one ACTIVE alert may exist per key, enforced by a partial
// unique index in the store.
type Key struct {
	SourceKind string `json:"source_kind"`
	SourceID   string `json:"source_id"`
	AlertType  string `json:"alert_type"`
}

// Source kinds used by the monitoring pollers.
const (
	SourceDevice      = "device"
	SourceEnvironment = "environment"
	SourceLighting    = "lighting"
)

// Alert types.
const (
	TypeOffline   = "offline"
	TypeError     = "error"
	TypeThreshold = "threshold"
)

// Alert is one raised condition against a monitored source.
type Alert struct {
	ID         string   `json:"id"`
	SourceKind string   `json:"source_kind"`
	SourceID   string   `json:"source_id"`
	AlertType  string   `json:"alert_type"`
	Severity   Severity `json:"severity"`
	Status     Status   `json:"status"`
	Message    string   `json:"message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	IgnoredAt        *time.Time `json:"ignored_at,omitempty"`
	IgnoredBy        string     `json:"ignored_by,omitempty"`
}

// Key returns the composite identity of the alert.
func (a *Alert) Key() Key {
	return Key{SourceKind: a.SourceKind, SourceID: a.SourceID, AlertType: a.AlertType}
}

// HistoryEntry is one row of the append-only status transition log.
// Written only when the status actually changes, never on no-op
// updates.
type HistoryEntry struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy string    `json:"changed_by,omitempty"` // empty means the system acted
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Tracking is the durable consecutive-failure counter for one
// monitored source. Created lazily on the first failure, never
// deleted.
//
// Invariant: AlertCreated is true only while an ACTIVE alert exists
// that this counter caused.
type Tracking struct {
	SourceKind   string     `json:"source_kind"`
	SourceID     string     `json:"source_id"`
	ErrorCount   int        `json:"error_count"`
	AlertCreated bool       `json:"alert_created"`
	LastError    string     `json:"last_error,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
}

// RuleKind distinguishes the two rule condition families.
type RuleKind string

// Rule kinds.
const (
	RuleErrorCount RuleKind = "error_count"
	RuleThreshold  RuleKind = "threshold"
)

// Rule is read-only reference data mapping a condition to an alert.
type Rule struct {
	ID        string   `json:"id"`
	Kind      RuleKind `json:"rule_kind"`
	AlertType string   `json:"alert_type"`

	// Threshold rules: value <Operator> Threshold raises the alert.
	Parameter string  `json:"parameter,omitempty"`
	Operator  string  `json:"operator,omitempty"` // gt, gte, lt, lte
	Threshold float64 `json:"threshold,omitempty"`

	// Error-count rules: this many consecutive failures raise the alert.
	ErrorCount int `json:"error_count,omitempty"`

	Severity        Severity `json:"severity"`
	MessageTemplate string   `json:"message_template"`
	Enabled         bool     `json:"enabled"`
}

// Satisfied reports whether a threshold rule's condition holds for a
// value.
func (r *Rule) Satisfied(value float64) bool {
	switch r.Operator {
	case "gt":
		return value > r.Threshold
	case "gte":
		return value >= r.Threshold
	case "lt":
		return value < r.Threshold
	case "lte":
		return value <= r.Threshold
	}
	return false
}

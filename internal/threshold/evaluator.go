package threshold

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yenshow/ba-backend-sub000/internal/alert"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
)

// valueRecoveredReason tags resolutions made when a reading returns
// inside its configured bounds.
const valueRecoveredReason = "value recovered"

// AlertService is the slice of the alert lifecycle the evaluator
// drives.
type AlertService interface {
	CreateAlert(ctx context.Context, key alert.Key, severity alert.Severity, message string) (*alert.Alert, error)
	ResolveAlert(ctx context.Context, key alert.Key, actor, reason string) (*alert.Alert, error)
	ActiveAlert(ctx context.Context, key alert.Key) (*alert.Alert, error)
}

// RuleSource supplies the enabled threshold rules per parameter.
type RuleSource interface {
	ThresholdRules(ctx context.Context, parameter string) ([]alert.Rule, error)
}

// SourceMeta carries display metadata for message templating.
type SourceMeta struct {
	Name     string
	Location string
}

// displayNames maps reading parameters to the names rendered into
// alert messages. Matching an existing alert back to its parameter is
// done by display-name containment in the stored message, so these
// strings must stay aligned with the rule templates.
var displayNames = map[string]string{
	"temperature": "Temperature",
	"humidity":    "Humidity",
	"co2":         "CO2",
	"pm25":        "PM2.5",
}

// DisplayName returns the message display name for a parameter.
func DisplayName(parameter string) string {
	if n, ok := displayNames[parameter]; ok {
		return n
	}
	return parameter
}

// Evaluator matches numeric readings against configured threshold
// rules and drives alert creation, escalation and recovery for them,
// independent of connectivity failures.
type Evaluator struct {
	alerts AlertService
	rules  RuleSource
	logger *logging.Logger
}

// NewEvaluator creates a threshold evaluator.
func NewEvaluator(alerts AlertService, rules RuleSource, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{alerts: alerts, rules: rules, logger: logger}
}

// Evaluate checks every parameter of a reading against its enabled
// rules. For each parameter the single most severe satisfied rule
// wins: one alert, not one per rule. A parameter back inside bounds
// resolves the alert it previously raised.
func (e *Evaluator) Evaluate(ctx context.Context, sourceKind, sourceID string, reading map[string]float64, meta SourceMeta) error {
	key := alert.Key{SourceKind: sourceKind, SourceID: sourceID, AlertType: alert.TypeThreshold}

	// Deterministic order keeps runs reproducible when several
	// parameters breach at once.
	params := make([]string, 0, len(reading))
	for p := range reading {
		params = append(params, p)
	}
	sort.Strings(params)

	for _, param := range params {
		if err := e.evaluateParameter(ctx, key, param, reading[param], meta); err != nil {
			return fmt.Errorf("evaluating %s: %w", param, err)
		}
	}
	return nil
}

func (e *Evaluator) evaluateParameter(ctx context.Context, key alert.Key, param string, value float64, meta SourceMeta) error {
	rules, err := e.rules.ThresholdRules(ctx, param)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	existing, err := e.alerts.ActiveAlert(ctx, key)
	if err != nil && !errors.Is(err, alert.ErrAlertNotFound) {
		return err
	}
	// Weak point, kept deliberately: the active alert is matched back
	// to this parameter by display-name containment in its message.
	pertains := existing != nil && strings.Contains(existing.Message, DisplayName(param))

	best := alert.MostSevereSatisfied(rules, value)
	if best == nil {
		if pertains {
			if _, err := e.alerts.ResolveAlert(ctx, key, "", valueRecoveredReason); err != nil &&
				!errors.Is(err, alert.ErrAlertNotFound) {
				return err
			}
			e.logger.Info("threshold recovered",
				"source_id", key.SourceID,
				"parameter", param,
				"value", value)
		}
		return nil
	}

	if pertains && existing.Severity == best.Severity {
		return nil // same condition already alerted, no write
	}

	msg := renderMessage(best, param, value, meta)
	if _, err := e.alerts.CreateAlert(ctx, key, best.Severity, msg); err != nil {
		return err
	}
	e.logger.Warn("threshold breached",
		"source_id", key.SourceID,
		"parameter", param,
		"value", value,
		"threshold", best.Threshold,
		"severity", best.Severity)
	return nil
}

func renderMessage(rule *alert.Rule, param string, value float64, meta SourceMeta) string {
	location := meta.Location
	if location == "" {
		location = meta.Name
	}
	vars := map[string]string{
		"parameter": DisplayName(param),
		"value":     strconv.FormatFloat(value, 'f', -1, 64),
		"threshold": strconv.FormatFloat(rule.Threshold, 'f', -1, 64),
		"name":      meta.Name,
		"location":  location,
	}
	if rule.MessageTemplate != "" {
		return alert.RenderTemplate(rule.MessageTemplate, vars)
	}
	return fmt.Sprintf("%s at %s is %s (threshold %s)",
		DisplayName(param), location, vars["value"], vars["threshold"])
}

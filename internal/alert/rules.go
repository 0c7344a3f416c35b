package alert

import (
	"sort"
	"strings"
)

// RenderTemplate substitutes {placeholder} tokens in a rule's message
// template. Unknown placeholders are left in place so a misconfigured
// template is visible in the rendered message instead of silently
// vanishing.
func RenderTemplate(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// MostSevereSatisfied returns the single most severe rule whose
// condition holds for value, or nil when none is satisfied. Ties on
// severity rank are broken deterministically by rule ID.
func MostSevereSatisfied(rules []Rule, value float64) *Rule {
	var satisfied []Rule
	for _, r := range rules {
		if r.Enabled && r.Satisfied(value) {
			satisfied = append(satisfied, r)
		}
	}
	if len(satisfied) == 0 {
		return nil
	}
	sort.Slice(satisfied, func(i, j int) bool {
		if satisfied[i].Severity.Rank() != satisfied[j].Severity.Rank() {
			return satisfied[i].Severity.Rank() > satisfied[j].Severity.Rank()
		}
		return satisfied[i].ID < satisfied[j].ID
	})
	return &satisfied[0]
}

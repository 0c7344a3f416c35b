// Package alert owns the alert lifecycle: creation, escalation,
// resolve/ignore/unignore, the append-only history log, and the
// durable consecutive-failure counters that decide when connectivity
// problems become alerts.
//
// # Features
//
//   - One-active-alert-per-(source kind, source id, type) invariant,
//     backed by a partial unique index and an insert-then-retry-as-
//     update race recovery path
//   - Severity escalation in place; never downgrades
//   - User suppression: ignored alerts swallow further signals until
//     explicitly unignored
//   - Debounced unresolved-count broadcasts for subscribers
//   - Rule-driven thresholds and message templating
//
// The Service is the only writer of alert rows; the Tracker layers
// the failure-counting policy on top and the threshold evaluator (in
// its own package) layers the reading-driven policy.
package alert

// Package device holds the catalogue of pollable field devices.
//
// # Features
//
//   - Repository interface with a SQLite implementation
//   - Registry wrapper adding an in-memory cache for hot-path lookups
//   - Reference-data resolution (ID to name/location) for alert
//     message templating
//
// Devices are grouped into polling families (controller, sensor,
// lighting); the monitoring scheduler registers one poll routine per
// family.
package device

package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device catalogue persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByKind retrieves all enabled devices of one polling family.
	ListByKind(ctx context.Context, kind Kind) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, kind, name, location, host, port, unit_id,
	poll_interval, error_threshold, enabled, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByKind retrieves all enabled devices of one polling family.
func (r *SQLiteRepository) ListByKind(ctx context.Context, kind Kind) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE kind = ? AND enabled = 1 ORDER BY name`
	return r.queryDevices(ctx, query, string(kind))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := validateDevice(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		string(d.Kind),
		d.Name,
		nullableString(d.Location),
		d.Host,
		d.Port,
		d.UnitID,
		nullableInt(d.PollInterval),
		nullableInt(d.ErrorThreshold),
		boolToInt(d.Enabled),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if err := validateDevice(d); err != nil {
		return err
	}

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET kind = ?, name = ?, location = ?, host = ?, port = ?, unit_id = ?,
			poll_interval = ?, error_threshold = ?, enabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(d.Kind),
		d.Name,
		nullableString(d.Location),
		d.Host,
		d.Port,
		d.UnitID,
		nullableInt(d.PollInterval),
		nullableInt(d.ErrorThreshold),
		boolToInt(d.Enabled),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d              Device
		kind           string
		location       sql.NullString
		pollInterval   sql.NullInt64
		errorThreshold sql.NullInt64
		enabled        int
		createdAt      string
		updatedAt      string
	)

	err := scanner.Scan(
		&d.ID,
		&kind,
		&d.Name,
		&location,
		&d.Host,
		&d.Port,
		&d.UnitID,
		&pollInterval,
		&errorThreshold,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)
	if location.Valid {
		d.Location = location.String
	}
	if pollInterval.Valid {
		v := int(pollInterval.Int64)
		d.PollInterval = &v
	}
	if errorThreshold.Valid {
		v := int(errorThreshold.Int64)
		d.ErrorThreshold = &v
	}
	d.Enabled = enabled != 0

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func validateDevice(d *Device) error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDevice)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unrecognised kind %q", ErrInvalidDevice, d.Kind)
	}
	if d.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidDevice)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Port)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique
// constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/textextract/textextract/internal/device/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, user_id, device_identifier, device_name, device_type, os_name, os_version, app_version, status, last_active_at, created_at`

// GetByUserAndIdentifier returns the device for the given user and identifier, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByUserAndIdentifier(ctx context.Context, userID, identifier string) (*domain.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 AND device_identifier = $2`,
		userID, identifier,
	)
	d, err := scanDevice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListByUser returns all devices for the given user. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountActiveByUser returns the number of active devices registered to the user.
func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE user_id = $1 AND status = 'active'`,
		userID,
	).Scan(&n)
	return n, err
}

// Create persists the device to the database. The device must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	lastActive := sql.NullTime{}
	if d.LastActiveAt != nil {
		lastActive = sql.NullTime{Time: *d.LastActiveAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.UserID, d.Identifier, d.Name, d.Type, d.OSName, d.OSVersion,
		d.AppVersion, string(d.Status), lastActive, d.CreatedAt,
	)
	return err
}

// Update rewrites the device's metadata, status, and last-active timestamp.
func (r *PostgresRepository) Update(ctx context.Context, d *domain.Device) error {
	lastActive := sql.NullTime{}
	if d.LastActiveAt != nil {
		lastActive = sql.NullTime{Time: *d.LastActiveAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET device_name = $2, device_type = $3, os_name = $4, os_version = $5,
		    app_version = $6, status = $7, last_active_at = $8
		WHERE id = $1`,
		d.ID, d.Name, d.Type, d.OSName, d.OSVersion, d.AppVersion,
		string(d.Status), lastActive,
	)
	return err
}

func scanDevice(scan func(...any) error) (*domain.Device, error) {
	var d domain.Device
	var status string
	var lastActive sql.NullTime
	err := scan(&d.ID, &d.UserID, &d.Identifier, &d.Name, &d.Type, &d.OSName,
		&d.OSVersion, &d.AppVersion, &status, &lastActive, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DeviceStatus(status)
	if lastActive.Valid {
		d.LastActiveAt = &lastActive.Time
	}
	return &d, nil
}

package projector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported authoritative store drivers.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// ErrUnknownDevice is returned when a device is not in the directory.
var ErrUnknownDevice = errors.New("unknown device")

// SourceSchema is the authoritative field-service schema the built-in rules
// are written against. It is used by seed-demo and tests.
const SourceSchema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id TEXT PRIMARY KEY,
    technician_id TEXT NOT NULL,
    territory TEXT NOT NULL DEFAULT '',
    latitude REAL,
    longitude REAL,
    radius_km REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    territory TEXT NOT NULL DEFAULT '',
    latitude REAL,
    longitude REAL
);

CREATE TABLE IF NOT EXISTS interventions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    technician_id TEXT NOT NULL,
    scheduled_at TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'planned'
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    technician_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open'
);

CREATE TABLE IF NOT EXISTS sales_documents (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    document_date TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'quote'
);

CREATE INDEX IF NOT EXISTS idx_interventions_technician ON interventions(technician_id, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_customers_territory ON customers(territory);
CREATE INDEX IF NOT EXISTS idx_sales_documents_customer ON sales_documents(customer_id, document_date);
`

// OpenSource opens the authoritative store with one of the supported drivers.
func OpenSource(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", DriverModernc:
		driver = DriverModernc
	case DriverCgo:
	default:
		return nil, fmt.Errorf("unsupported source driver %q (want %s or %s)", driver, DriverModernc, DriverCgo)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping source: %w", err)
	}
	return db, nil
}

// Device is one row of the device directory.
type Device struct {
	DeviceID     string
	TechnicianID string
	Territory    string
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	RadiusKm     float64
}

// Directory resolves devices to projection scopes.
type Directory struct {
	db     *sql.DB
	past   time.Duration
	future time.Duration
	now    func() time.Time
}

// NewDirectory creates a directory over the authoritative store. past and
// future size the rolling window around the current time.
func NewDirectory(db *sql.DB, past, future time.Duration) *Directory {
	return &Directory{db: db, past: past, future: future, now: time.Now}
}

// SetClock replaces the time source used for the rolling window.
func (d *Directory) SetClock(now func() time.Time) { d.now = now }

const deviceColumns = `device_id, technician_id, territory, latitude, longitude, radius_km`

func scanDevice(s interface{ Scan(...any) error }) (Device, error) {
	var dev Device
	err := s.Scan(&dev.DeviceID, &dev.TechnicianID, &dev.Territory, &dev.Latitude, &dev.Longitude, &dev.RadiusKm)
	return dev, err
}

// Devices lists active devices ordered by id.
func (d *Directory) Devices(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT device_id FROM devices WHERE active = 1 ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Scope resolves the projection scope of a device.
func (d *Directory) Scope(ctx context.Context, deviceID string) (Scope, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ? AND active = 1`, deviceID)
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Scope{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if err != nil {
		return Scope{}, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}

	start, end := Window(d.now(), d.past, d.future)
	scope := Scope{
		DeviceID:     dev.DeviceID,
		TechnicianID: dev.TechnicianID,
		Territory:    dev.Territory,
		WindowStart:  start,
		WindowEnd:    end,
	}
	if dev.Latitude.Valid && dev.Longitude.Valid && dev.RadiusKm > 0 {
		scope.HasLocation = true
		scope.Latitude = dev.Latitude.Float64
		scope.Longitude = dev.Longitude.Float64
		scope.RadiusKm = dev.RadiusKm
	}
	return scope, nil
}

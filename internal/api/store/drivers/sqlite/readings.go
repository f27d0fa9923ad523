package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
)

type readingsRepo struct {
	db *sql.DB
}

const readingColumns = `id, device_id, device_name, device_ip, device_subnet, device_mac,
	temperature, rpm, oil_pressure, vibration, load_percentage,
	status, event, timestamp, datetime, created_at`

func (r *readingsRepo) Insert(ctx context.Context, reading domain.Reading) (domain.Reading, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (device_id, device_name, device_ip, device_subnet, device_mac,
			temperature, rpm, oil_pressure, vibration, load_percentage,
			status, event, timestamp, datetime, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.DeviceID, reading.DeviceName, reading.DeviceIP, reading.DeviceSubnet, reading.DeviceMAC,
		reading.Temperature, reading.RPM, reading.OilPressure, reading.Vibration, reading.LoadPercentage,
		reading.Status, mapOptionalString(reading.Event), reading.Timestamp, reading.Datetime, now)
	if err != nil {
		return domain.Reading{}, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Reading{}, err
	}

	reading.ID = id
	reading.CreatedAt = now
	return reading, nil
}

func (r *readingsRepo) ListRecent(ctx context.Context, limit int) ([]domain.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []domain.Reading
	for rows.Next() {
		var (
			reading domain.Reading
			event   sql.NullString
		)
		err := rows.Scan(
			&reading.ID, &reading.DeviceID, &reading.DeviceName, &reading.DeviceIP,
			&reading.DeviceSubnet, &reading.DeviceMAC,
			&reading.Temperature, &reading.RPM, &reading.OilPressure,
			&reading.Vibration, &reading.LoadPercentage,
			&reading.Status, &event, &reading.Timestamp, &reading.Datetime, &reading.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		reading.Event = mapNullStringPtr(event)
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func (r *readingsRepo) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&count)
	return count, err
}

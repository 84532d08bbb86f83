package repository

import (
	"context"
	"database/sql"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
)

// WindowRepository stores availability windows. The table's exclusion
// constraint rejects overlapping windows for one vehicle even if two
// writers bypass the ledger lock.
type WindowRepository struct {
	DB *sql.DB
}

func NewWindowRepository(conn *sql.DB) *WindowRepository {
	return &WindowRepository{DB: conn}
}

func (r *WindowRepository) ListWindows(ctx context.Context, vehicleID string) ([]db.Window, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, vehicle_id, start_date, end_date, reservation_id, expires_at, created_at
		FROM availability_windows
		WHERE vehicle_id = $1
		ORDER BY start_date`, vehicleID)
	if err != nil {
		return nil, classify("error querying windows", err)
	}
	defer rows.Close()

	var out []db.Window
	for rows.Next() {
		var (
			w     db.Window
			resID sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.VehicleID, &w.StartDate, &w.EndDate, &resID, &w.ExpiresAt, &w.CreatedAt); err != nil {
			return nil, classify("error scanning window", err)
		}
		w.ReservationID = resID.String
		w.StartDate = w.StartDate.UTC()
		w.EndDate = w.EndDate.UTC()
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("error after iterating windows", err)
	}
	return out, nil
}

func (r *WindowRepository) InsertWindow(ctx context.Context, w *db.Window) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO availability_windows (id, vehicle_id, start_date, end_date, reservation_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.VehicleID, w.StartDate, w.EndDate, nullString(w.ReservationID), w.ExpiresAt, w.CreatedAt)
	return classify("insert window", err)
}

func (r *WindowRepository) CommitWindow(ctx context.Context, windowID, reservationID string, now time.Time) error {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE availability_windows
		SET reservation_id = $2, expires_at = NULL
		WHERE id = $1 AND (expires_at IS NULL OR expires_at > $3)`,
		windowID, reservationID, now)
	if err != nil {
		return classify("commit window", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("commit window", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.KindNotFound, "window %s not found or expired", windowID)
	}
	return nil
}

func (r *WindowRepository) DeleteWindow(ctx context.Context, windowID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = $1`, windowID)
	return classify("delete window", err)
}

func (r *WindowRepository) DeleteExpiredWindows(ctx context.Context, vehicleID string, now time.Time) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `
		DELETE FROM availability_windows
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND ($2 = '' OR vehicle_id = $2)`,
		now, vehicleID)
	if err != nil {
		return 0, classify("delete expired windows", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("delete expired windows", err)
	}
	return n, nil
}

// VehicleRepository is a read-only view of the vehicle catalog.
type VehicleRepository struct {
	DB *sql.DB
}

func NewVehicleRepository(conn *sql.DB) *VehicleRepository {
	return &VehicleRepository{DB: conn}
}

func (r *VehicleRepository) GetVehicle(ctx context.Context, id string) (*db.Vehicle, error) {
	var v db.Vehicle
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, owner_id, daily_rate, deposit_amount FROM vehicles WHERE id = $1`, id,
	).Scan(&v.ID, &v.OwnerID, &v.DailyRate, &v.DepositAmount)
	if err != nil {
		return nil, classify("vehicle "+id, err)
	}
	return &v, nil
}

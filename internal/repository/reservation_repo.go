package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables and constraints if they do not exist.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

type ReservationRepository struct {
	DB *sql.DB
}

func NewReservationRepository(conn *sql.DB) *ReservationRepository {
	return &ReservationRepository{DB: conn}
}

const reservationColumns = `
	id, vehicle_id, renter_id, owner_id, start_date, end_date, day_count, selected_options,
	base_price, options_price, service_fee, insurance_fee, total, deposit_amount, currency,
	status, payment_method, payment_reference, payment_reference_history, retry_count, window_id,
	pickup_location, return_location, renter_email, renter_phone, cancellation_reason,
	created_at, confirmed_at, started_at, completed_at, cancelled_at, payment_failed_at,
	updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*db.Reservation, error) {
	var (
		res                             db.Reservation
		status, method                  string
		paymentRef, windowID, cancelMsg sql.NullString
	)
	err := row.Scan(
		&res.ID, &res.VehicleID, &res.RenterID, &res.OwnerID, &res.StartDate, &res.EndDate, &res.DayCount,
		pq.Array(&res.SelectedOptions),
		&res.Price.BasePrice, &res.Price.OptionsPrice, &res.Price.ServiceFee, &res.Price.InsuranceFee,
		&res.Price.Total, &res.Price.DepositAmount, &res.Currency,
		&status, &method, &paymentRef, pq.Array(&res.PaymentReferenceHistory), &res.RetryCount, &windowID,
		&res.PickupLocation, &res.ReturnLocation, &res.RenterEmail, &res.RenterPhone, &cancelMsg,
		&res.CreatedAt, &res.ConfirmedAt, &res.StartedAt, &res.CompletedAt, &res.CancelledAt, &res.PaymentFailedAt,
		&res.UpdatedAt, &res.Version,
	)
	if err != nil {
		return nil, err
	}
	res.Status = db.Status(status)
	if !res.Status.Valid() {
		return nil, fmt.Errorf("reservation %s has unknown status %q", res.ID, status)
	}
	res.PaymentMethod = db.PaymentMethod(method)
	res.PaymentReference = paymentRef.String
	res.WindowID = windowID.String
	res.CancellationReason = cancelMsg.String
	res.StartDate = res.StartDate.UTC()
	res.EndDate = res.EndDate.UTC()
	return &res, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *ReservationRepository) Create(ctx context.Context, res *db.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $27, 1)
		RETURNING updated_at, version`
	err := r.DB.QueryRowContext(ctx, query,
		res.ID, res.VehicleID, res.RenterID, res.OwnerID, res.StartDate, res.EndDate, res.DayCount,
		pq.Array(res.SelectedOptions),
		res.Price.BasePrice, res.Price.OptionsPrice, res.Price.ServiceFee, res.Price.InsuranceFee,
		res.Price.Total, res.Price.DepositAmount, res.Currency,
		string(res.Status), string(res.PaymentMethod), nullString(res.PaymentReference),
		pq.Array(nonNil(res.PaymentReferenceHistory)), res.RetryCount, nullString(res.WindowID),
		res.PickupLocation, res.ReturnLocation, res.RenterEmail, res.RenterPhone, nullString(res.CancellationReason),
		res.CreatedAt, res.ConfirmedAt, res.StartedAt, res.CompletedAt, res.CancelledAt, res.PaymentFailedAt,
	).Scan(&res.UpdatedAt, &res.Version)
	return classify("insert reservation", err)
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("reservation %s", id), err)
	}
	return res, nil
}

// GetByPaymentReference finds the reservation whose current or superseded
// payment reference equals ref.
func (r *ReservationRepository) GetByPaymentReference(ctx context.Context, ref string) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE payment_reference = $1 OR payment_reference_history @> ARRAY[$1]::text[]
		LIMIT 1`, ref)
	res, err := scanReservation(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("reservation with payment reference %s", ref), err)
	}
	return res, nil
}

// Update writes the mutable lifecycle columns if res.Version is still current,
// then bumps res.Version.
func (r *ReservationRepository) Update(ctx context.Context, res *db.Reservation) error {
	query := `
		UPDATE reservations SET
			status = $3,
			payment_reference = $4,
			payment_reference_history = $5,
			retry_count = $6,
			window_id = $7,
			cancellation_reason = $8,
			confirmed_at = $9,
			started_at = $10,
			completed_at = $11,
			cancelled_at = $12,
			payment_failed_at = $13,
			updated_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $2`
	result, err := r.DB.ExecContext(ctx, query,
		res.ID, res.Version,
		string(res.Status), nullString(res.PaymentReference), pq.Array(nonNil(res.PaymentReferenceHistory)),
		res.RetryCount, nullString(res.WindowID), nullString(res.CancellationReason),
		res.ConfirmedAt, res.StartedAt, res.CompletedAt, res.CancelledAt, res.PaymentFailedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return classify("update reservation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("update reservation", err)
	}
	if n == 0 {
		var exists bool
		if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, res.ID).Scan(&exists); err != nil {
			return classify("update reservation", err)
		}
		if !exists {
			return apperr.Newf(apperr.KindNotFound, "reservation %s not found", res.ID)
		}
		return ErrStaleVersion
	}
	res.Version++
	return nil
}

func (r *ReservationRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]db.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations WHERE vehicle_id = $1
		ORDER BY start_date, created_at`, vehicleID)
	if err != nil {
		return nil, classify("error querying reservations by vehicle", err)
	}
	defer rows.Close()

	var out []db.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, classify("error scanning reservation", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("error after iterating reservations", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// JobRepository holds the queries used by scheduled jobs.
type JobRepository struct {
	DB *sql.DB
}

func NewJobRepository(conn *sql.DB) *JobRepository {
	return &JobRepository{DB: conn}
}

// ListStalePendingPayment returns ids of reservations that have waited for
// payment since before the cutoff.
func (r *JobRepository) ListStalePendingPayment(ctx context.Context, before time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM reservations WHERE status = 'pending_payment' AND updated_at < $1`, before)
}

// ListUnreleased returns ids of reservations that no longer hold inventory
// but still reference a window.
func (r *JobRepository) ListUnreleased(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM reservations WHERE window_id IS NOT NULL AND status IN ('completed', 'cancelled', 'payment_failed')`)
}

func (r *JobRepository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("error querying reservation ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("error scanning reservation id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("error after iterating rows", err)
	}
	return ids, nil
}

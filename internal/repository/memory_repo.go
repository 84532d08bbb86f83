package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
)

// MemoryReservationRepository keeps reservations in process memory.
// Used for local runs without DATABASE_URL and in tests.
type MemoryReservationRepository struct {
	mu    sync.RWMutex
	byID  map[string]*db.Reservation
	order []string
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{byID: make(map[string]*db.Reservation)}
}

func (r *MemoryReservationRepository) Create(ctx context.Context, res *db.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[res.ID]; exists {
		return apperr.Newf(apperr.KindConflict, "reservation %s already exists", res.ID)
	}
	res.Version = 1
	res.UpdatedAt = res.CreatedAt
	r.byID[res.ID] = res.Clone()
	r.order = append(r.order, res.ID)
	return nil
}

func (r *MemoryReservationRepository) GetByID(ctx context.Context, id string) (*db.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "reservation %s not found", id)
	}
	return res.Clone(), nil
}

func (r *MemoryReservationRepository) GetByPaymentReference(ctx context.Context, ref string) (*db.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		res := r.byID[id]
		if res.PaymentReference == ref {
			return res.Clone(), nil
		}
		for _, old := range res.PaymentReferenceHistory {
			if old == ref {
				return res.Clone(), nil
			}
		}
	}
	return nil, apperr.Newf(apperr.KindNotFound, "no reservation for payment reference %s", ref)
}

func (r *MemoryReservationRepository) Update(ctx context.Context, res *db.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[res.ID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "reservation %s not found", res.ID)
	}
	if cur.Version != res.Version {
		return ErrStaleVersion
	}
	res.Version++
	r.byID[res.ID] = res.Clone()
	return nil
}

func (r *MemoryReservationRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]db.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []db.Reservation
	for _, id := range r.order {
		if res := r.byID[id]; res.VehicleID == vehicleID {
			out = append(out, *res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (r *MemoryReservationRepository) ListStalePendingPayment(ctx context.Context, before time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		res := r.byID[id]
		if res.Status == db.StatusPendingPayment && res.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MemoryReservationRepository) ListUnreleased(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		res := r.byID[id]
		if res.WindowID != "" && !res.Status.HoldsInventory() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MemoryWindowRepository keeps availability windows in process memory.
type MemoryWindowRepository struct {
	mu      sync.Mutex
	windows map[string]db.Window
}

func NewMemoryWindowRepository() *MemoryWindowRepository {
	return &MemoryWindowRepository{windows: make(map[string]db.Window)}
}

func (r *MemoryWindowRepository) ListWindows(ctx context.Context, vehicleID string) ([]db.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []db.Window
	for _, w := range r.windows {
		if w.VehicleID == vehicleID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (r *MemoryWindowRepository) InsertWindow(ctx context.Context, w *db.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.windows[w.ID]; exists {
		return apperr.Newf(apperr.KindConflict, "window %s already exists", w.ID)
	}
	r.windows[w.ID] = *w
	return nil
}

func (r *MemoryWindowRepository) CommitWindow(ctx context.Context, windowID, reservationID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[windowID]
	if !ok || !w.Live(now) {
		return apperr.Newf(apperr.KindNotFound, "window %s not found or expired", windowID)
	}
	w.ReservationID = reservationID
	w.ExpiresAt = nil
	r.windows[windowID] = w
	return nil
}

func (r *MemoryWindowRepository) DeleteWindow(ctx context.Context, windowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, windowID)
	return nil
}

func (r *MemoryWindowRepository) DeleteExpiredWindows(ctx context.Context, vehicleID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, w := range r.windows {
		if vehicleID != "" && w.VehicleID != vehicleID {
			continue
		}
		if !w.Live(now) {
			delete(r.windows, id)
			n++
		}
	}
	return n, nil
}

// MemoryVehicleRepository is a fixed vehicle catalog.
type MemoryVehicleRepository struct {
	mu       sync.RWMutex
	vehicles map[string]db.Vehicle
}

func NewMemoryVehicleRepository(vehicles ...db.Vehicle) *MemoryVehicleRepository {
	r := &MemoryVehicleRepository{vehicles: make(map[string]db.Vehicle, len(vehicles))}
	for _, v := range vehicles {
		r.vehicles[v.ID] = v
	}
	return r
}

func (r *MemoryVehicleRepository) GetVehicle(ctx context.Context, id string) (*db.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "vehicle %s not found", id)
	}
	return &v, nil
}

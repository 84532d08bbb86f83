package auth

import (
	"context"

	"drivehub/internal/db"
)

var (
	renterEvents = map[db.Event]bool{db.EventCancel: true, db.EventRetry: true, db.EventStart: true, db.EventComplete: true}
	ownerEvents  = map[db.Event]bool{db.EventCancel: true, db.EventStart: true, db.EventComplete: true}
	systemEvents = map[db.Event]bool{db.EventPaymentConfirmed: true, db.EventPaymentFailed: true}
)

// RolePermissions decides who may fire which event. Payment events from
// people are manual reconciliation and belong to admins.
type RolePermissions struct{}

func (RolePermissions) ActorCanTransition(ctx context.Context, actor db.Actor, r *db.Reservation, event db.Event) bool {
	switch {
	case actor.Role == db.RoleAdmin:
		return true
	case actor.Role == db.RoleSystem:
		return systemEvents[event]
	case actor.ID == "":
		return false
	case actor.ID == r.RenterID:
		return renterEvents[event]
	case actor.ID == r.OwnerID:
		return ownerEvents[event]
	}
	return false
}

package service

import (
	"errors"
	"math"

	"github.com/feedlog/internal/db"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("permission denied")
)

// Actor is the authenticated caller of a service operation. Handlers resolve
// it from the session and pass it explicitly; services never read ambient
// request state.
type Actor struct {
	ID       string
	Username string
	Role     string
}

// ActorFromUser builds an Actor from a persisted user.
func ActorFromUser(u db.User) *Actor {
	return &Actor{ID: u.ID, Username: u.Username, Role: u.Role}
}

// IsAdmin reports whether the actor carries the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == db.RoleAdmin
}

func requireActor(actor *Actor) error {
	if actor == nil || actor.ID == "" {
		return ErrUnauthenticated
	}
	return nil
}

func requireAdmin(actor *Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// pageOffset returns the row offset of page, or false when it does not fit
// in an int; such a page is necessarily past the end.
func pageOffset(page, limit int) (int, bool) {
	if limit <= 0 {
		return 0, true
	}
	if page-1 > math.MaxInt/limit {
		return 0, false
	}
	return (page - 1) * limit, true
}

// clampLimit keeps limit within [1, upper].
func clampLimit(limit, upper int) int {
	if limit < 1 {
		limit = 1
	}
	if upper > 0 && limit > upper {
		limit = upper
	}
	return limit
}

func calculateTotalPages(total int64, perPage int) int {
	if perPage <= 0 || total == 0 {
		return 1
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}

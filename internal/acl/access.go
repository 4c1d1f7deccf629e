// internal/acl/access.go
//
// Access levels for bot commands.
//
// Context
// -------
// Every registered command declares the least privileged Level allowed to
// run it.  The dispatcher calls Allow before the handler runs, the way an
// HTTP stack checks a role before the route.

package acl

import "go.uber.org/zap"

// Level orders the three audiences.
type Level int

const (
	Guest Level = iota
	Admin
	Superadmin
)

func (l Level) String() string {
	switch l {
	case Admin:
		return "admin"
	case Superadmin:
		return "superadmin"
	default:
		return "guest"
	}
}

// LevelOf returns the highest level the account holds.
func (s *Store) LevelOf(userID int64, username string) (Level, error) {
	if s.IsSuperadmin(userID) {
		return Superadmin, nil
	}
	ok, err := s.IsAdmin(userID, username)
	if err != nil {
		return Guest, err
	}
	if ok {
		return Admin, nil
	}
	return Guest, nil
}

// Allow reports whether the account may use something guarded by need.
// Lookup errors deny.
func (s *Store) Allow(need Level, userID int64, username string) bool {
	if need == Guest {
		return true
	}
	have, err := s.LevelOf(userID, username)
	if err != nil {
		s.log.Error("acl level lookup", zap.Int64("user", userID), zap.Error(err))
		return false
	}
	return have >= need
}

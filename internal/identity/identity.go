// Package identity carries the Telegram profile fields that several stores
// copy onto their records.
package identity

import "strings"

// User is a Telegram account as seen in an update.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName is "First Last", falling back to "@username" and then to
// fallback.
func (u User) DisplayName(fallback string) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if un := NormalizeUsername(u.Username); un != "" {
		return "@" + un
	}
	return fallback
}

// NormalizeUsername trims, drops one leading "@", and lowercases.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

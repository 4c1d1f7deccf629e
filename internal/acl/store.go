// internal/acl/store.go
//
// Role Store for the lounge bot.
//
// Context
// -------
// Two roles exist beyond guests:
//
//	superadmin  Telegram ids listed in configuration (roles.superadmin_ids)
//	admin       usernames listed in admin_roles.json
//
// Admins are added by username, usually before the bot has ever seen them,
// so the record's user_id stays null until SyncFromUser observes an update
// from that account.  The admin-roles document looks like:
//
//	{"admins": {"alice": {"user_id": 42, "first_name": "Alice", "last_name": null}}}
//
// Notes
// -----
//   • Usernames are stored normalized (no "@", lowercase).
//   • The staff set is recomputed on every call.  Callers that loop should
//     take one snapshot and reuse it.
package acl

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
)

// DocumentName labels the roles file in metrics and logs.
const DocumentName = "admin_roles"

var (
	ErrInvalidUsername = errors.New("invalid telegram username")
	ErrNotAdmin        = errors.New("username is not an admin")
)

// UserDirectory resolves usernames seen by the event store.
type UserDirectory interface {
	ActiveUsernames() (map[int64]string, error)
	FindUserIDByUsername(username string) (int64, bool, error)
}

// CardOverrider applies and clears staff card overrides.
type CardOverrider interface {
	SetStaffOverride(u identity.User, label string, discount *int) (cards.Card, error)
	ClearStaffOverride(userID int64) (cards.Card, bool, error)
}

// Options configures a Store.
type Options struct {
	SuperadminIDs   []int64
	AdminLabel      string
	SuperadminLabel string
}

// record is one admin entry.  Nulls are kept as nulls on disk.
type record struct {
	UserID    *int64  `json:"user_id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// Document is the root of admin_roles.json.
type Document struct {
	Admins filestore.Records[record] `json:"admins"`
}

// Entry is the read model of one admin entry.  UserID is 0 until synced.
type Entry struct {
	Username  string `json:"username"`
	UserID    int64  `json:"user_id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Label is "First Last (@username)", or "@username" when no name is known.
func (a Entry) Label() string {
	u := identity.User{FirstName: a.FirstName, LastName: a.LastName}
	if name := u.DisplayName(""); name != "" {
		return fmt.Sprintf("%s (@%s)", name, a.Username)
	}
	return "@" + a.Username
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Set is a snapshot of user ids.
type Set map[int64]struct{}

// Has reports membership.
func (s Set) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Store is safe for concurrent use.
type Store struct {
	doc         *filestore.Document[Document]
	users       UserDirectory
	cards       CardOverrider
	superadmins Set
	opts        Options
	log         *zap.Logger
}

// Open binds a Store to path.
func Open(path string, lock *filestore.Lock, users UserDirectory, overrider CardOverrider, opts Options) *Store {
	if opts.AdminLabel == "" {
		opts.AdminLabel = "ADMIN🐧"
	}
	if opts.SuperadminLabel == "" {
		opts.SuperadminLabel = "SUPERADMIN🥷"
	}
	supers := make(Set, len(opts.SuperadminIDs))
	for _, id := range opts.SuperadminIDs {
		supers[id] = struct{}{}
	}
	return &Store{
		doc: filestore.Open(path, filestore.Options[Document]{
			Name: DocumentName,
			Lock: lock,
			Empty: func() *Document {
				return &Document{Admins: filestore.NewRecords[record]()}
			},
			Normalize: func(d *Document) {
				if d.Admins.Items == nil {
					d.Admins = filestore.NewRecords[record]()
				}
			},
		}),
		users:       users,
		cards:       overrider,
		superadmins: supers,
		opts:        opts,
		log:         zap.L().Named("acl"),
	}
}

/*──────────────────────────── table CRUD ──────────────────────────────────*/

// Add inserts username with an unknown user id.  Existing entries are kept
// as they are.
func (s *Store) Add(username string) error {
	u, err := ValidateUsername(username)
	if err != nil {
		return err
	}
	return s.doc.Update(func(d *Document) error {
		if d.Admins.Has(u) {
			return filestore.ErrSkipWrite
		}
		d.Admins.Items[u] = &record{}
		s.log.Info("admin added", zap.String("username", u))
		return nil
	})
}

// Remove deletes username.  Unknown names are a no-op.
func (s *Store) Remove(username string) error {
	u := identity.NormalizeUsername(username)
	return s.doc.Update(func(d *Document) error {
		if _, ok := d.Admins.Items[u]; !ok {
			return filestore.ErrSkipWrite
		}
		delete(d.Admins.Items, u)
		s.log.Info("admin removed", zap.String("username", u))
		return nil
	})
}

// Get returns the admin entry for username.
func (s *Store) Get(username string) (Entry, bool, error) {
	u := identity.NormalizeUsername(username)
	d, err := s.doc.Load()
	if err != nil {
		return Entry{}, false, err
	}
	rec, ok := d.Admins.Items[u]
	if !ok {
		return Entry{}, false, nil
	}
	return toAdmin(u, rec), true, nil
}

func toAdmin(username string, r *record) Entry {
	a := Entry{Username: username, FirstName: deref(r.FirstName), LastName: deref(r.LastName)}
	if r.UserID != nil {
		a.UserID = *r.UserID
	}
	return a
}

// List returns every admin ordered by username.
func (s *Store) List() ([]Entry, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(d.Admins.Items))
	for u, rec := range d.Admins.Items {
		out = append(out, toAdmin(u, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// AdminUserIDs returns the ids of admins that have been synced.
func (s *Store) AdminUserIDs() (Set, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make(Set, len(list))
	for _, a := range list {
		if a.UserID != 0 {
			out[a.UserID] = struct{}{}
		}
	}
	return out, nil
}

// SyncFromUser copies the Telegram identity onto the matching admin entry.
// Users without a username, or whose username is not an admin, are ignored.
func (s *Store) SyncFromUser(u identity.User) error {
	name := identity.NormalizeUsername(u.Username)
	if name == "" {
		return nil
	}
	return s.doc.Update(func(d *Document) error {
		rec, ok := d.Admins.Items[name]
		if !ok {
			return filestore.ErrSkipWrite
		}
		first, last := nullable(u.FirstName), nullable(u.LastName)
		if rec.UserID != nil && *rec.UserID == u.ID &&
			deref(rec.FirstName) == deref(first) && deref(rec.LastName) == deref(last) {
			return filestore.ErrSkipWrite
		}
		id := u.ID
		rec.UserID, rec.FirstName, rec.LastName = &id, first, last
		return nil
	})
}

/*──────────────────────────── role checks ─────────────────────────────────*/

// IsSuperadmin tests userID against the configured ids.
func (s *Store) IsSuperadmin(userID int64) bool { return s.superadmins.Has(userID) }

// IsAdmin checks the admin table by username when one is given, otherwise
// by a previously synced user id.
func (s *Store) IsAdmin(userID int64, username string) (bool, error) {
	d, err := s.doc.Load()
	if err != nil {
		return false, err
	}
	if u := identity.NormalizeUsername(username); u != "" {
		_, ok := d.Admins.Items[u]
		return ok, nil
	}
	for _, rec := range d.Admins.Items {
		if rec.UserID != nil && *rec.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// IsStaff is IsSuperadmin or IsAdmin.
func (s *Store) IsStaff(userID int64, username string) (bool, error) {
	if s.IsSuperadmin(userID) {
		return true, nil
	}
	return s.IsAdmin(userID, username)
}

// StaffLabel returns the card label a staff member should carry, or "" for
// guests.
func (s *Store) StaffLabel(userID int64, username string) (string, error) {
	if s.IsSuperadmin(userID) {
		return s.opts.SuperadminLabel, nil
	}
	ok, err := s.IsAdmin(userID, username)
	if err != nil || !ok {
		return "", err
	}
	return s.opts.AdminLabel, nil
}

// StaffSet is every id that must be kept out of competitions and
// broadcasts: superadmins, synced admins, and active users whose username
// is in the admin table.
func (s *Store) StaffSet() (Set, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make(Set, len(s.superadmins)+len(list))
	for id := range s.superadmins {
		out[id] = struct{}{}
	}
	names := make(map[string]struct{}, len(list))
	for _, a := range list {
		names[a.Username] = struct{}{}
		if a.UserID != 0 {
			out[a.UserID] = struct{}{}
		}
	}
	if len(names) == 0 || s.users == nil {
		return out, nil
	}

	active, err := s.users.ActiveUsernames()
	if err != nil {
		return nil, fmt.Errorf("staff set: %w", err)
	}
	for id, name := range active {
		if _, ok := names[name]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

/*──────────────────────────── promote / demote ────────────────────────────*/

// Promote adds username to the admin table and, when the event store
// already knows the account, gives its card the admin override.  The
// returned id is 0 when the account is not known yet.
func (s *Store) Promote(username string) (int64, error) {
	u, err := ValidateUsername(username)
	if err != nil {
		return 0, err
	}
	if err := s.Add(u); err != nil {
		return 0, err
	}

	uid, ok, err := s.resolve(u)
	if err != nil || !ok {
		return 0, err
	}
	if err := s.bind(u, uid); err != nil {
		return uid, err
	}
	label := s.opts.AdminLabel
	if s.IsSuperadmin(uid) {
		label = s.opts.SuperadminLabel
	}
	if s.cards != nil {
		if _, err := s.cards.SetStaffOverride(identity.User{ID: uid, Username: u}, label, nil); err != nil {
			return uid, fmt.Errorf("promote %s: %w", u, err)
		}
	}
	s.log.Info("admin promoted", zap.String("username", u), zap.Int64("user", uid))
	return uid, nil
}

// Demote removes username from the admin table and returns the card to its
// visit-derived tier.  Superadmins keep their override.
func (s *Store) Demote(username string) (int64, error) {
	u := identity.NormalizeUsername(username)
	a, found, err := s.Get(u)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotAdmin
	}

	uid := a.UserID
	if uid == 0 {
		if uid, _, err = s.resolve(u); err != nil {
			return 0, err
		}
	}
	if err := s.Remove(u); err != nil {
		return uid, err
	}
	if uid != 0 && s.cards != nil && !s.IsSuperadmin(uid) {
		if _, _, err := s.cards.ClearStaffOverride(uid); err != nil {
			return uid, fmt.Errorf("demote %s: %w", u, err)
		}
	}
	s.log.Info("admin demoted", zap.String("username", u), zap.Int64("user", uid))
	return uid, nil
}

func (s *Store) resolve(username string) (int64, bool, error) {
	if a, ok, err := s.Get(username); err != nil {
		return 0, false, err
	} else if ok && a.UserID != 0 {
		return a.UserID, true, nil
	}
	if s.users == nil {
		return 0, false, nil
	}
	return s.users.FindUserIDByUsername(username)
}

// bind records a user id found through the directory, so the admin counts
// as staff before their next update arrives.
func (s *Store) bind(username string, uid int64) error {
	return s.doc.Update(func(d *Document) error {
		rec, ok := d.Admins.Items[username]
		if !ok || (rec.UserID != nil && *rec.UserID == uid) {
			return filestore.ErrSkipWrite
		}
		id := uid
		rec.UserID = &id
		return nil
	})
}

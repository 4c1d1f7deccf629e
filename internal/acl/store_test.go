// internal/acl/store_test.go
//
// Unit tests for the Role Store against a temp admin_roles.json.

package acl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/tier"
)

// directory is an in-memory UserDirectory.
type directory map[int64]string

func (d directory) ActiveUsernames() (map[int64]string, error) { return d, nil }

func (d directory) FindUserIDByUsername(username string) (int64, bool, error) {
	u := identity.NormalizeUsername(username)
	var best int64
	for id, name := range d {
		if name == u && (best == 0 || id < best) {
			best = id
		}
	}
	return best, best != 0, nil
}

type fixture struct {
	store *Store
	cards *cards.Registry
	path  string
}

func newFixture(t *testing.T, users directory) fixture {
	t.Helper()
	dir := t.TempDir()
	lock := filestore.NewLock()
	reg := cards.Open(filepath.Join(dir, "level_cards.json"), lock, cards.Options{Tiers: tier.Default()})
	path := filepath.Join(dir, "admin_roles.json")
	s := Open(path, lock, users, reg, Options{SuperadminIDs: []int64{1}})
	return fixture{store: s, cards: reg, path: path}
}

func TestAddListRemove(t *testing.T) {
	f := newFixture(t, directory{})
	s := f.store

	require.NoError(t, s.Add("@Zed_Bar"))
	require.NoError(t, s.Add("alice_a"))
	require.NoError(t, s.Add("ALICE_A"))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice_a", list[0].Username)
	assert.Equal(t, "zed_bar", list[1].Username)
	assert.Zero(t, list[0].UserID)

	raw, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"user_id": null`)

	require.NoError(t, s.Remove("@zed_bar"))
	require.NoError(t, s.Remove("nobody"))
	list, err = s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestValidateUsername(t *testing.T) {
	u, err := ValidateUsername("  @Good_Name ")
	require.NoError(t, err)
	assert.Equal(t, "good_name", u)

	for _, bad := range []string{"", "@abc", "has space", "ünïcode", "x234567890123456789012345678901234"} {
		_, err := ValidateUsername(bad)
		assert.ErrorIs(t, err, ErrInvalidUsername, bad)
	}
}

func TestSyncFromUserAndIsAdmin(t *testing.T) {
	f := newFixture(t, directory{})
	s := f.store
	require.NoError(t, s.Add("alice_a"))

	ok, err := s.IsAdmin(42, "")
	require.NoError(t, err)
	assert.False(t, ok, "unsynced admin is unknown by id")

	require.NoError(t, s.SyncFromUser(identity.User{ID: 42, Username: "Alice_A", FirstName: "Alice"}))
	require.NoError(t, s.SyncFromUser(identity.User{ID: 43, Username: "stranger"}))
	require.NoError(t, s.SyncFromUser(identity.User{ID: 44}))

	a, found, err := s.Get("alice_a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(42), a.UserID)
	assert.Equal(t, "Alice (@alice_a)", a.Label())

	ok, err = s.IsAdmin(42, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// A username, when given, decides on its own.
	ok, err = s.IsAdmin(42, "someone_else")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.AdminUserIDs()
	require.NoError(t, err)
	assert.True(t, ids.Has(42))
	assert.Len(t, ids, 1)
}

func TestStaffSet(t *testing.T) {
	users := directory{
		10: "guest_one",
		20: "bob_bar",
		30: "carol_c",
	}
	f := newFixture(t, users)
	s := f.store
	require.NoError(t, s.Add("bob_bar"))
	require.NoError(t, s.Add("dave_d"))
	require.NoError(t, s.SyncFromUser(identity.User{ID: 40, Username: "dave_d"}))

	staff, err := s.StaffSet()
	require.NoError(t, err)
	assert.True(t, staff.Has(1), "superadmin")
	assert.True(t, staff.Has(20), "admin matched by active username")
	assert.True(t, staff.Has(40), "synced admin")
	assert.False(t, staff.Has(10))
	assert.False(t, staff.Has(30))
}

func TestLevelsAndLabels(t *testing.T) {
	f := newFixture(t, directory{})
	s := f.store
	require.NoError(t, s.Add("alice_a"))

	lvl, err := s.LevelOf(1, "")
	require.NoError(t, err)
	assert.Equal(t, Superadmin, lvl)

	lvl, err = s.LevelOf(5, "alice_a")
	require.NoError(t, err)
	assert.Equal(t, Admin, lvl)

	assert.True(t, s.Allow(Guest, 9, ""))
	assert.False(t, s.Allow(Admin, 9, "nobody_x"))
	assert.True(t, s.Allow(Admin, 5, "alice_a"))
	assert.False(t, s.Allow(Superadmin, 5, "alice_a"))
	assert.True(t, s.Allow(Superadmin, 1, ""))

	label, err := s.StaffLabel(1, "")
	require.NoError(t, err)
	assert.Equal(t, "SUPERADMIN🥷", label)
	label, err = s.StaffLabel(5, "alice_a")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN🐧", label)
	label, err = s.StaffLabel(9, "")
	require.NoError(t, err)
	assert.Empty(t, label)
}

func TestPromoteAndDemote(t *testing.T) {
	f := newFixture(t, directory{7: "bob_bar"})
	s := f.store

	_, err := f.cards.EnsureCard(identity.User{ID: 7, Username: "bob_bar"})
	require.NoError(t, err)
	_, _, err = f.cards.AddVisits(7, 5)
	require.NoError(t, err)

	uid, err := s.Promote("@Bob_Bar")
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)

	c, _, err := f.cards.FindByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN🐧", c.Level)

	uid, err = s.Demote("bob_bar")
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)

	c, _, err = f.cards.FindByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, "BRONZE🥉", c.Level)
	assert.Equal(t, 5, c.Visits)

	ok, err := s.IsAdmin(7, "bob_bar")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPromoteUnknownUserOnlyAddsName(t *testing.T) {
	f := newFixture(t, directory{})
	uid, err := f.store.Promote("new_admin")
	require.NoError(t, err)
	assert.Zero(t, uid)

	list, err := f.cards.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.store.Promote("x")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = f.store.Demote("never_added")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

package cards

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/tier"
)

func newRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "level_cards.json")
	return Open(path, filestore.NewLock(), Options{Tiers: tier.Default()}), path
}

// stubDraw replays values, then keeps returning the last one.
func stubDraw(t *testing.T, values ...int) {
	t.Helper()
	orig := drawInt
	i := 0
	drawInt = func(int) (int, error) {
		v := values[min(i, len(values)-1)]
		i++
		return v, nil
	}
	t.Cleanup(func() { drawInt = orig })
}

func TestEnsureCardIssuesIronCard(t *testing.T) {
	r, _ := newRegistry(t)
	c, err := r.EnsureCard(identity.User{ID: 7, Username: "ann", FirstName: "Ann"})
	require.NoError(t, err)

	assert.Equal(t, "IRON⚙️", c.Level)
	assert.Equal(t, 3, c.Discount)
	assert.Equal(t, 0, c.Visits)
	assert.Len(t, c.Number, 4)

	again, err := r.EnsureCard(identity.User{ID: 7, LastName: "Lee"})
	require.NoError(t, err)
	assert.Equal(t, c.Number, again.Number)
	assert.Equal(t, "ann", again.Username, "empty fields must not erase stored ones")
	assert.Equal(t, "Lee", again.LastName)
}

func TestAllocationSkipsRepdigitsAndUsedNumbers(t *testing.T) {
	// 1111 − 10 = 1101 maps to the repdigit 1111; 32 maps to 0042.
	stubDraw(t, 1101, 32, 32, 33)
	r, _ := newRegistry(t)

	a, err := r.EnsureCard(identity.User{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "0042", a.Number)

	b, err := r.EnsureCard(identity.User{ID: 2})
	require.NoError(t, err)
	assert.Equal(t, "0043", b.Number)

	found, ok, err := r.FindByNumber("42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), found.UserID)
}

func TestAllocationFallsBackToScan(t *testing.T) {
	stubDraw(t, 0) // always 0010
	used := map[string]bool{"0010": true, "0011": true}
	got, err := allocate(func(s string) bool { return used[s] })
	require.NoError(t, err)
	assert.Equal(t, "0012", got)
}

func TestAllocationFallsBackOnEntropyError(t *testing.T) {
	orig := drawInt
	drawInt = func(int) (int, error) { return 0, errors.New("no entropy") }
	t.Cleanup(func() { drawInt = orig })

	got, err := allocate(func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "0010", got)
}

func TestAllocationExhausted(t *testing.T) {
	_, err := allocate(func(string) bool { return true })
	assert.ErrorIs(t, err, ErrCardSpaceExhausted)
}

func TestRepdigits(t *testing.T) {
	for _, n := range []int{1111, 2222, 8888, 0} {
		assert.True(t, isRepdigit(n), n)
	}
	for _, n := range []int{10, 1112, 9998, 4821} {
		assert.False(t, isRepdigit(n), n)
	}
}

func TestAllocatedNumbersAreDistinct(t *testing.T) {
	r, _ := newRegistry(t)
	seen := make(map[string]bool)
	for id := int64(1); id <= 300; id++ {
		c, err := r.EnsureCard(identity.User{ID: id})
		require.NoError(t, err)
		require.Len(t, c.Number, 4)
		n, err := strconv.Atoi(c.Number)
		require.NoError(t, err)
		assert.False(t, isRepdigit(n), c.Number)
		assert.GreaterOrEqual(t, n, MinNumber)
		assert.LessOrEqual(t, n, MaxNumber)
		assert.False(t, seen[c.Number], "number %s issued twice", c.Number)
		seen[c.Number] = true
	}
	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 300)
}

func TestAddVisitsIsAdditive(t *testing.T) {
	r, _ := newRegistry(t)
	for _, id := range []int64{1, 2} {
		_, err := r.EnsureCard(identity.User{ID: id})
		require.NoError(t, err)
	}
	for _, d := range []int{1, 1, 1} {
		_, _, err := r.AddVisits(1, d)
		require.NoError(t, err)
	}
	_, _, err := r.AddVisits(2, 3)
	require.NoError(t, err)

	a, _, err := r.FindByUserID(1)
	require.NoError(t, err)
	b, _, err := r.FindByUserID(2)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Visits)
	assert.Equal(t, b.Visits, a.Visits)
	assert.Equal(t, b.Level, a.Level)
	assert.Equal(t, b.Discount, a.Discount)
}

func TestAddVisitsPromotesTier(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.EnsureCard(identity.User{ID: 1})
	require.NoError(t, err)

	c, ok, err := r.AddVisits(1, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "IRON⚙️", c.Level)

	c, _, err = r.AddVisits(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "BRONZE🥉", c.Level)
	assert.Equal(t, 5, c.Discount)

	same, ok, err := r.AddVisits(1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, same.Visits)

	same, _, err = r.AddVisits(1, -3)
	require.NoError(t, err)
	assert.Equal(t, 5, same.Visits)

	_, ok, err = r.AddVisits(99, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaffOverrideRoundTrip(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.EnsureCard(identity.User{ID: 1})
	require.NoError(t, err)
	_, _, err = r.AddVisits(1, 16)
	require.NoError(t, err)

	c, err := r.SetStaffOverride(identity.User{ID: 1}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN🐧", c.Level)
	assert.Equal(t, 10, c.Discount)
	assert.True(t, c.Staff)

	// Visits keep counting but do not move a staff card.
	c, _, err = r.AddVisits(1, 30)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN🐧", c.Level)

	fifteen := 15
	c, err = r.SetStaffOverride(identity.User{ID: 1}, "SUPERADMIN🥷", &fifteen)
	require.NoError(t, err)
	assert.Equal(t, "SUPERADMIN🥷", c.Level)
	assert.Equal(t, 15, c.Discount)

	c, ok, err := r.ClearStaffOverride(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, c.Staff)
	assert.Equal(t, "GOLD🥇", c.Level)
	assert.Equal(t, 46, c.Visits)
	assert.Empty(t, c.StaffLevel)
	assert.Nil(t, c.StaffDiscount)
}

func TestSetStaffOverrideIssuesCard(t *testing.T) {
	r, _ := newRegistry(t)
	c, err := r.SetStaffOverride(identity.User{ID: 5, Username: "boss"}, "SUPERADMIN🥷", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Number)
	assert.Equal(t, "SUPERADMIN🥷", c.Level)

	counts, err := r.TierCounts()
	require.NoError(t, err)
	assert.Empty(t, counts, "staff cards are not tier members")
}

func TestLegacyDocument(t *testing.T) {
	r, path := newRegistry(t)
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "next_number": 4821,
	  "by_number": {
	    "4821": {"user_id": 1, "level": "IRON⚙️", "discount": 3, "visits": 16, "staff_gold": false, "staff_level": null, "staff_discount": null},
	    "0500": {"user_id": 2, "staff_gold": true, "visits": 2},
	    "0600": "garbage"
	  },
	  "by_user": {"1": "4821", "2": 500, "3": "0600"}
	}`), 0o644))

	c, ok, err := r.FindByUserID(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SILVER🥈", c.Level, "levels are derived on read")

	c, ok, err = r.FindByUserID(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0500", c.Number)
	assert.Equal(t, "ADMIN🐧", c.Level)

	_, ok, err = r.FindByUserID(3)
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)
	assert.False(t, ok)

	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// 0600 stays reserved even though it does not decode.
	stubDraw(t, 590, 591)
	n, err := r.EnsureCard(identity.User{ID: 4})
	require.NoError(t, err)
	assert.Equal(t, "0601", n.Number)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"0600": "garbage"`)
	assert.Contains(t, string(raw), `"next_number": 4821`)
}

func TestMalformedCardIsNotReissued(t *testing.T) {
	r, path := newRegistry(t)
	const stored = `{"user_id":1,"level":"IRON⚙️","discount":3,"visits":"7","staff_gold":false}`
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "next_number": 4821,
	  "by_number": {"0042": `+stored+`},
	  "by_user": {"1": "0042"}
	}`), 0o644))

	_, err := r.EnsureCard(identity.User{ID: 1})
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)
	_, err = r.SetStaffOverride(identity.User{ID: 1}, "", nil)
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)
	_, _, err = r.AddVisits(1, 1)
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)
	_, _, err = r.ClearStaffOverride(1)
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back struct {
		ByNumber map[string]json.RawMessage `json:"by_number"`
		ByUser   map[string]string          `json:"by_user"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Len(t, back.ByNumber, 1)
	assert.JSONEq(t, stored, string(back.ByNumber["0042"]))
	assert.Equal(t, map[string]string{"1": "0042"}, back.ByUser)
}

func TestBadCardRefDoesNotBreakDocument(t *testing.T) {
	r, path := newRegistry(t)
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "by_number": {"0042": {"user_id": 1, "visits": 2}},
	  "by_user": {"1": "0042", "2": null, "3": ""}
	}`), 0o644))

	c, ok, err := r.FindByUserID(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0042", c.Number)

	_, err = r.EnsureCard(identity.User{ID: 2})
	require.ErrorIs(t, err, filestore.ErrMalformedRecord)

	// Writes for other users keep the bad refs as they were.
	_, err = r.EnsureCard(identity.User{ID: 4})
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back struct {
		ByUser map[string]json.RawMessage `json:"by_user"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.JSONEq(t, `null`, string(back.ByUser["2"]))
	assert.JSONEq(t, `""`, string(back.ByUser["3"]))
	assert.Len(t, back.ByUser, 4)
}

func TestMissingCardKeepsItsNumber(t *testing.T) {
	r, path := newRegistry(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"by_number": {}, "by_user": {"1": "0777"}}`), 0o644))

	c, err := r.EnsureCard(identity.User{ID: 1, FirstName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "0777", c.Number)
	assert.Equal(t, "Ann", c.FirstName)
}

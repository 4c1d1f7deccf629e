package leaderboard

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/events"
	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/timeutil"
)

var tyumen = time.FixedZone("UTC+5", 5*60*60)

// monthly serves canned counts keyed by the month that starts at from.
type monthly struct {
	counts map[timeutil.Month]map[int64]int
	calls  []Query
}

func (m *monthly) MonthlyVisitCounts(from, _ time.Time, source string, activeOnly bool) (map[int64]int, error) {
	m.calls = append(m.calls, Query{Source: source, ActiveOnly: activeOnly})
	return m.counts[timeutil.MonthOf(from, tyumen)], nil
}

type staffSet acl.Set

func (s staffSet) StaffSet() (acl.Set, error) { return acl.Set(s), nil }

type brokenStaff struct{}

func (brokenStaff) StaffSet() (acl.Set, error) { return nil, errors.New("roles unreadable") }

func march() timeutil.Month { return timeutil.Month{Year: 2026, Month: time.March} }

func newEngine(src VisitSource, staff StaffSource, now time.Time) *Engine {
	return New(src, staff, Options{
		Zone:   tyumen,
		Launch: march(),
		Source: "lounge",
		Now:    func() time.Time { return now },
	})
}

func TestLeaderboardOrdersAndExcludesStaff(t *testing.T) {
	src := &monthly{counts: map[timeutil.Month]map[int64]int{
		march(): {5: 3, 2: 3, 9: 7, 4: 1, 8: 0},
	}}
	e := newEngine(src, staffSet{9: {}}, time.Date(2026, 3, 20, 12, 0, 0, 0, tyumen))

	rows, err := e.MonthlyLeaderboard(2026, time.March, Query{Source: "lounge"})
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Place: 1, UserID: 2, Visits: 3},
		{Place: 2, UserID: 5, Visits: 3},
		{Place: 3, UserID: 4, Visits: 1},
	}, rows)

	rows, err = e.MonthlyLeaderboard(2026, time.March, Query{Limit: 1, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].UserID)
	assert.True(t, src.calls[len(src.calls)-1].ActiveOnly)
}

func TestLeaderboardBeforeLaunchIsEmpty(t *testing.T) {
	src := &monthly{counts: map[timeutil.Month]map[int64]int{
		{Year: 2026, Month: time.February}: {1: 10},
	}}
	e := newEngine(src, staffSet{}, time.Date(2026, 3, 2, 0, 0, 0, 0, tyumen))

	rows, err := e.MonthlyLeaderboard(2026, time.February, Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, src.calls, "no store access before launch")

	bonus, err := e.MonthlyBonusFor(1)
	require.NoError(t, err)
	assert.Zero(t, bonus)

	medals, err := e.MedalsFor(1)
	require.NoError(t, err)
	assert.Empty(t, medals)
}

func TestBonusFromPreviousMonth(t *testing.T) {
	src := &monthly{counts: map[timeutil.Month]map[int64]int{
		march(): {1: 9, 2: 8, 3: 7, 4: 6, 99: 50},
	}}
	e := newEngine(src, staffSet{99: {}}, time.Date(2026, 4, 15, 12, 0, 0, 0, tyumen))

	want := map[int64]int{1: 10, 2: 6, 3: 3, 4: 0, 99: 0, 1234: 0}
	for uid, b := range want {
		got, err := e.MonthlyBonusFor(uid)
		require.NoError(t, err)
		assert.Equal(t, b, got, "user %d", uid)
	}

	total, bonus, err := e.TotalDiscount(2, 5)
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	assert.Equal(t, 6, bonus)
}

func TestStaffNeverRewarded(t *testing.T) {
	src := &monthly{counts: map[timeutil.Month]map[int64]int{
		march(): {7: 100, 8: 1},
	}}
	e := newEngine(src, staffSet{7: {}}, time.Date(2026, 4, 1, 8, 0, 0, 0, tyumen))

	bonus, err := e.MonthlyBonusFor(7)
	require.NoError(t, err)
	assert.Zero(t, bonus)
	medals, err := e.MedalsFor(7)
	require.NoError(t, err)
	assert.Empty(t, medals)

	bonus, err = e.MonthlyBonusFor(8)
	require.NoError(t, err)
	assert.Equal(t, 10, bonus, "best guest takes first place")
}

func TestMedalsAreChronological(t *testing.T) {
	src := &monthly{counts: map[timeutil.Month]map[int64]int{
		march():                           {1: 5, 2: 4},
		{Year: 2026, Month: time.April}:   {1: 1, 2: 4, 3: 2},
		{Year: 2026, Month: time.May}:     {1: 3},
		{Year: 2026, Month: time.June}:    {1: 9}, // current month, not finished
	}}
	e := newEngine(src, staffSet{}, time.Date(2026, 6, 10, 0, 0, 0, 0, tyumen))

	medals, err := e.MedalsFor(1)
	require.NoError(t, err)
	assert.Equal(t, "🥇🥉🥇", medals)

	medals, err = e.MedalsFor(2)
	require.NoError(t, err)
	assert.Equal(t, "🥈🥇", medals)

	medals, err = e.MedalsFor(42)
	require.NoError(t, err)
	assert.Empty(t, medals)
}

func TestStaffErrorPropagates(t *testing.T) {
	e := newEngine(&monthly{}, brokenStaff{}, time.Date(2026, 4, 1, 0, 0, 0, 0, tyumen))
	_, err := e.MonthlyLeaderboard(2026, time.March, Query{})
	assert.Error(t, err)

	total, bonus, err := e.TotalDiscount(1, 7)
	assert.Error(t, err)
	assert.Equal(t, 7, total)
	assert.Zero(t, bonus)
}

func TestLeaderboardOverEventStore(t *testing.T) {
	now := time.Date(2026, 3, 31, 23, 30, 0, 0, tyumen)
	clock := func() time.Time { return now }
	store := events.Open(filepath.Join(t.TempDir(), "admin_stats.json"), filestore.NewLock(),
		events.Options{Zone: tyumen, Now: clock})

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, store.Touch(identity.User{ID: id}))
	}
	require.NoError(t, store.RecordVisit(1, 50, "lounge"))
	require.NoError(t, store.RecordVisit(2, 50, "lounge"))
	require.NoError(t, store.RecordVisit(2, 50, "lounge"))
	require.NoError(t, store.RecordVisit(3, 50, "other"))
	require.NoError(t, store.MarkUnsubscribed(2))

	e := New(store, staffSet{}, Options{Zone: tyumen, Launch: march(), Source: "lounge", Now: clock})

	all, err := e.MonthlyLeaderboard(2026, time.March, Query{Source: "lounge"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].UserID)

	active, err := e.MonthlyLeaderboard(2026, time.March, Query{Source: "lounge", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].UserID)

	// 23:30 local on the 31st is still March; next month starts April 1 00:00.
	april, err := e.MonthlyLeaderboard(2026, time.April, Query{Source: "lounge"})
	require.NoError(t, err)
	assert.Empty(t, april)
}

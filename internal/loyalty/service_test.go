package loyalty

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/events"
	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/tier"
	"github.com/yanizio/loungebot/internal/timeutil"
)

var tyumen = time.FixedZone("UTC+5", 5*60*60)

const superadmin int64 = 1

type harness struct {
	svc *Service
	now time.Time
}

func (h *harness) at(t time.Time) { h.now = t }

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	h := &harness{now: start}
	clock := func() time.Time { return h.now }
	dir := t.TempDir()
	lock := filestore.NewLock()

	ev := events.Open(filepath.Join(dir, "admin_stats.json"), lock, events.Options{Zone: tyumen, Now: clock})
	reg := cards.Open(filepath.Join(dir, "level_cards.json"), lock, cards.Options{Tiers: tier.Default()})
	roles := acl.Open(filepath.Join(dir, "admin_roles.json"), lock, ev, reg, acl.Options{
		SuperadminIDs: []int64{superadmin},
	})
	board := leaderboard.New(ev, roles, leaderboard.Options{
		Zone:   tyumen,
		Launch: timeutil.Month{Year: 2026, Month: time.March},
		Source: "lounge",
		Now:    clock,
	})
	h.svc = New(Deps{Events: ev, Cards: reg, Roles: roles, Board: board}, Options{
		Source:          "lounge",
		Zone:            tyumen,
		BusinessDayHour: 6,
		Tiers:           tier.Default(),
		Now:             clock,
	})
	return h
}

var guest = identity.User{ID: 100, Username: "guest_user", FirstName: "Gina"}

func TestRegisterVisitPromoteDemote(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 2, 12, 0, 0, 0, tyumen))
	s := h.svc

	card, err := s.Register(guest)
	require.NoError(t, err)
	assert.Equal(t, 0, card.Visits)
	assert.Equal(t, "IRON⚙️", card.Level)
	assert.Equal(t, 3, card.Discount)

	for day := 0; day < 5; day++ {
		h.at(time.Date(2026, 3, 2+day, 20, 0, 0, 0, tyumen))
		res, err := s.ConfirmVisit(card.Number, superadmin)
		require.NoError(t, err, "day %d", day)
		assert.Equal(t, day+1, res.Card.Visits)
	}

	got, _, err := s.Cards.FindByUserID(guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "BRONZE🥉", got.Level)
	assert.Equal(t, 5, got.Discount)
	next, remaining, ok := s.Tiers().Next(got.Visits)
	require.True(t, ok)
	assert.Equal(t, "SILVER", next.Label)
	assert.Equal(t, 10, remaining)

	uid, err := s.Promote("@guest_user")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, uid)
	got, _, err = s.Cards.FindByUserID(guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN🐧", got.Level)

	_, err = s.Demote("guest_user")
	require.NoError(t, err)
	got, _, err = s.Cards.FindByUserID(guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "BRONZE🥉", got.Level)
	assert.Equal(t, 5, got.Discount)
	assert.Equal(t, 5, got.Visits)
}

func TestOneVisitPerBusinessDay(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 10, 10, 0, 0, 0, tyumen))
	s := h.svc
	card, err := s.Register(guest)
	require.NoError(t, err)

	_, err = s.ConfirmVisit(card.Number, superadmin)
	require.NoError(t, err)

	h.at(time.Date(2026, 3, 10, 23, 0, 0, 0, tyumen))
	res, err := s.ConfirmVisit(card.Number, superadmin)
	assert.ErrorIs(t, err, ErrAlreadyVisitedToday)
	assert.Equal(t, 1, res.Card.Visits)
	assert.Equal(t, 3, res.Discount, "discount is still reported")

	// 05:59 the next morning belongs to the same business day.
	h.at(time.Date(2026, 3, 11, 5, 59, 0, 0, tyumen))
	_, err = s.ConfirmVisit(card.Number, superadmin)
	assert.ErrorIs(t, err, ErrAlreadyVisitedToday)

	h.at(time.Date(2026, 3, 11, 6, 0, 0, 0, tyumen))
	res, err = s.ConfirmVisit(card.Number, superadmin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Card.Visits)

	rec, ok, err := s.Events.Get(guest.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, rec.VisitEvents, 2)
}

func TestConfirmVisitRejectsBadInput(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 10, 10, 0, 0, 0, tyumen))
	s := h.svc

	_, err := s.ConfirmVisit("12a4", superadmin)
	assert.ErrorIs(t, err, ErrInvalidCardNumber)
	_, err = s.ConfirmVisit("   ", superadmin)
	assert.ErrorIs(t, err, ErrInvalidCardNumber)
	_, err = s.ConfirmVisit("-42", superadmin)
	assert.ErrorIs(t, err, ErrInvalidCardNumber)

	_, err = s.ConfirmVisit("9999", superadmin)
	assert.ErrorIs(t, err, ErrCardNotFound)

	own, err := s.Register(identity.User{ID: superadmin, Username: "boss_man"})
	require.NoError(t, err)
	assert.Equal(t, "SUPERADMIN🥷", own.Level)
	_, err = s.ConfirmVisit(own.Number, superadmin)
	assert.ErrorIs(t, err, ErrSelfVisit)
}

func TestCardViewWithBonusAndMedals(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 20, 12, 0, 0, 0, tyumen))
	s := h.svc
	card, err := s.Register(guest)
	require.NoError(t, err)
	_, err = s.ConfirmVisit(card.Number, superadmin)
	require.NoError(t, err)

	// The superadmin visits more but never ranks.
	_, err = s.Register(identity.User{ID: superadmin})
	require.NoError(t, err)
	require.NoError(t, s.Events.RecordVisit(superadmin, 0, "lounge"))
	require.NoError(t, s.Events.RecordVisit(superadmin, 0, "lounge"))

	h.at(time.Date(2026, 4, 3, 12, 0, 0, 0, tyumen))
	v, err := s.Card(guest)
	require.NoError(t, err)
	assert.True(t, v.Registered)
	assert.Equal(t, "IRON⚙️", v.Level)
	assert.Equal(t, 3, v.Base)
	assert.Equal(t, 10, v.Bonus)
	assert.Equal(t, 13, v.Total)
	assert.Equal(t, "🥇", v.Medals)
	require.True(t, v.HasNext)
	assert.Equal(t, "BRONZE", v.Next.Label)
	assert.Equal(t, 4, v.Remaining)

	boss, err := s.Card(identity.User{ID: superadmin})
	require.NoError(t, err)
	assert.True(t, boss.Staff)
	assert.True(t, boss.Superadmin)
	assert.Equal(t, "SUPERADMIN🥷", boss.Level)
	assert.Zero(t, boss.Bonus)
	assert.Empty(t, boss.Medals)
	assert.False(t, boss.HasNext)
}

func TestCardViewUnregistered(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 20, 12, 0, 0, 0, tyumen))
	v, err := h.svc.Card(identity.User{ID: 555})
	require.NoError(t, err)
	assert.False(t, v.Registered)
	assert.Equal(t, "IRON⚙️", v.Level)
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, "BRONZE", v.Next.Label)
	assert.Equal(t, 5, v.Remaining)
}

func TestStatsAndAdmins(t *testing.T) {
	h := newHarness(t, time.Date(2026, 3, 20, 12, 0, 0, 0, tyumen))
	s := h.svc

	card, err := s.Register(guest)
	require.NoError(t, err)
	_, err = s.Register(identity.User{ID: superadmin})
	require.NoError(t, err)
	_, err = s.Register(identity.User{ID: 7, Username: "helper_bee"})
	require.NoError(t, err)
	_, err = s.Promote("helper_bee")
	require.NoError(t, err)

	_, err = s.ConfirmVisit(card.Number, 7)
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 1, st.Visits.Today)
	assert.Equal(t, map[string]int{"IRON⚙️": 1}, st.Tiers)
	require.Len(t, st.TopAdmins, 1)
	assert.Equal(t, int64(7), st.TopAdmins[0].AdminID)

	rows, err := s.Admins()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "helper_bee", rows[0].Username)
	assert.Equal(t, int64(7), rows[0].UserID)
	assert.Equal(t, 1, rows[0].Marked.Total)

	clients, total, err := s.AdminClients(7, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, guest.ID, clients[0].UserID)
}

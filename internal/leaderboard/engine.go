// internal/leaderboard/engine.go
//
// Monthly leaderboard, bonus discounts, and medals.
//
// Context
// -------
// Guests compete on confirmed visits per calendar month in the reference
// zone.  The top places of a finished month earn a bonus discount for the
// following month and a medal that stays on the card for good.
//
//	March ranks   → April bonus   → medal shown from April on
//
// Staff never rank.  They are removed before places are assigned, so the
// best guest is first even when an admin has more visits.
//
// Notes
// -----
//   • Months before the launch month have no leaderboard at all.
//   • Ties are broken by ascending user id, so places are deterministic.
//   • Bonus and medals rank every guest, including those who blocked the
//     bot since.  The public rating only shows active guests.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/timeutil"
)

// VisitSource counts visits per user inside a time range.
type VisitSource interface {
	MonthlyVisitCounts(from, to time.Time, source string, activeOnly bool) (map[int64]int, error)
}

// StaffSource returns the ids excluded from competition.
type StaffSource interface {
	StaffSet() (acl.Set, error)
}

// Award is the reward for one place.
type Award struct {
	Place int
	Bonus int
	Medal string
}

// DefaultAwards is 10/6/3 percent with gold, silver, and bronze medals.
func DefaultAwards() []Award {
	return []Award{
		{Place: 1, Bonus: 10, Medal: "🥇"},
		{Place: 2, Bonus: 6, Medal: "🥈"},
		{Place: 3, Bonus: 3, Medal: "🥉"},
	}
}

// Options configures an Engine.
type Options struct {
	Zone   *time.Location
	Launch timeutil.Month
	Awards []Award
	// Source is the default visit source for bonus and medal ranking.
	Source string
	Now    func() time.Time
}

// Query narrows a leaderboard.  Limit <= 0 means no limit.
type Query struct {
	Source     string
	Limit      int
	ActiveOnly bool
}

// Entry is one ranked guest.
type Entry struct {
	Place  int   `json:"place"`
	UserID int64 `json:"user_id"`
	Visits int   `json:"visits"`
}

// Engine is stateless apart from its inputs and safe for concurrent use.
type Engine struct {
	visits VisitSource
	staff  StaffSource
	opts   Options
	byPos  map[int]Award
	log    *zap.Logger
}

// New builds an Engine.
func New(visits VisitSource, staff StaffSource, opts Options) *Engine {
	if opts.Zone == nil {
		opts.Zone = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Awards == nil {
		opts.Awards = DefaultAwards()
	}
	byPos := make(map[int]Award, len(opts.Awards))
	for _, a := range opts.Awards {
		byPos[a.Place] = a
	}
	return &Engine{
		visits: visits,
		staff:  staff,
		opts:   opts,
		byPos:  byPos,
		log:    zap.L().Named("leaderboard"),
	}
}

// Zone is the reference zone months are cut in.
func (e *Engine) Zone() *time.Location { return e.opts.Zone }

// CurrentMonth is the month containing now in the reference zone.
func (e *Engine) CurrentMonth() timeutil.Month {
	return timeutil.MonthOf(e.opts.Now(), e.opts.Zone)
}

// Launch is the first month with a leaderboard.
func (e *Engine) Launch() timeutil.Month { return e.opts.Launch }

// Awards returns the configured rewards ordered by place.
func (e *Engine) Awards() []Award {
	out := append([]Award(nil), e.opts.Awards...)
	sort.Slice(out, func(i, j int) bool { return out[i].Place < out[j].Place })
	return out
}

func (e *Engine) rewardedPlaces() int {
	n := 0
	for p := range e.byPos {
		n = max(n, p)
	}
	return n
}

// MonthlyLeaderboard ranks non-staff guests by visits in year/month.
func (e *Engine) MonthlyLeaderboard(year int, month time.Month, q Query) ([]Entry, error) {
	staff, err := e.staff.StaffSet()
	if err != nil {
		return nil, fmt.Errorf("leaderboard staff: %w", err)
	}
	return e.board(timeutil.Month{Year: year, Month: month}, q, staff)
}

func (e *Engine) board(m timeutil.Month, q Query, staff acl.Set) ([]Entry, error) {
	if m.Before(e.opts.Launch) {
		return nil, nil
	}
	from, to := m.Bounds(e.opts.Zone)
	counts, err := e.visits.MonthlyVisitCounts(from, to, q.Source, q.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", m, err)
	}

	out := make([]Entry, 0, len(counts))
	for id, n := range counts {
		if n <= 0 || staff.Has(id) {
			continue
		}
		out = append(out, Entry{UserID: id, Visits: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].UserID < out[j].UserID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		out[i].Place = i + 1
	}
	return out, nil
}

// placeIn returns the user's place in m among eligible guests, 0 if unranked.
func (e *Engine) placeIn(m timeutil.Month, userID int64, staff acl.Set) (int, error) {
	rows, err := e.board(m, Query{Source: e.opts.Source, Limit: e.rewardedPlaces()}, staff)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if r.UserID == userID {
			return r.Place, nil
		}
	}
	return 0, nil
}

// MonthlyBonusFor is the extra discount earned in the previous month.
// Staff always get 0.
func (e *Engine) MonthlyBonusFor(userID int64) (int, error) {
	staff, err := e.staff.StaffSet()
	if err != nil {
		return 0, err
	}
	if staff.Has(userID) {
		return 0, nil
	}
	prev := e.CurrentMonth().Prev()
	place, err := e.placeIn(prev, userID, staff)
	if err != nil || place == 0 {
		return 0, err
	}
	return e.byPos[place].Bonus, nil
}

// MedalsFor concatenates the medals earned in every finished month since
// launch, oldest first.  Staff always get "".
func (e *Engine) MedalsFor(userID int64) (string, error) {
	staff, err := e.staff.StaffSet()
	if err != nil {
		return "", err
	}
	if staff.Has(userID) {
		return "", nil
	}
	var out string
	for _, m := range timeutil.Months(e.opts.Launch, e.CurrentMonth().Prev()) {
		place, err := e.placeIn(m, userID, staff)
		if err != nil {
			return "", err
		}
		if place > 0 {
			out += e.byPos[place].Medal
		}
	}
	return out, nil
}

// TotalDiscount adds the monthly bonus to a card's base discount.
func (e *Engine) TotalDiscount(userID int64, base int) (total, bonus int, err error) {
	bonus, err = e.MonthlyBonusFor(userID)
	if err != nil {
		e.log.Warn("bonus lookup failed", zap.Int64("user", userID), zap.Error(err))
		return base, 0, err
	}
	return base + bonus, bonus, nil
}

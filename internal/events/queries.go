// internal/events/queries.go
//
// Read-side queries over a fresh snapshot of the events document.  None of
// them mutate.  Records with non-numeric keys and events with unparseable
// timestamps are skipped one by one.

package events

import (
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/metrics"
	"github.com/yanizio/loungebot/internal/timeutil"
)

func malformed(log *zap.Logger, what string, fields ...zap.Field) {
	metrics.MalformedRecordsTotal.Inc()
	log.Debug("skipping malformed "+what, fields...)
}

// each calls fn for every record with a numeric id.
func (s *Store) each(d *Document, fn func(id int64, rec *UserRecord)) {
	for k, rec := range d.Users.Items {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || rec == nil {
			malformed(s.log, "user key", zap.String("key", k))
			continue
		}
		fn(id, rec)
	}
}

// visits calls fn for each well-formed visit event of rec matching source
// ("" matches every source).
func (s *Store) visits(rec *UserRecord, source string, fn func(ev VisitEvent, ts time.Time)) {
	for _, ev := range rec.VisitEvents {
		if !ev.valid() {
			continue
		}
		if source != "" && ev.Src != source {
			continue
		}
		ts, ok := s.parse(ev.TS)
		if !ok {
			continue
		}
		fn(ev, ts)
	}
}

// Counts holds a value for the today / 7 day / 30 day windows.
type Counts struct {
	Today int `json:"today"`
	Week  int `json:"week"`
	Month int `json:"month"`
}

type windows struct{ today, week, month time.Time }

func (s *Store) windows() windows {
	now := s.opts.Now().In(s.opts.Zone)
	return windows{
		today: timeutil.StartOfDay(now),
		week:  now.AddDate(0, 0, -7),
		month: now.AddDate(0, 0, -30),
	}
}

func (w windows) add(c *Counts, ts time.Time) {
	if !ts.Before(w.today) {
		c.Today++
	}
	if !ts.Before(w.week) {
		c.Week++
	}
	if !ts.Before(w.month) {
		c.Month++
	}
}

/*──────────────────────────── lookups ─────────────────────────────────────*/

// Get returns a copy of the user's record.
func (s *Store) Get(userID int64) (UserRecord, bool, error) {
	d, err := s.doc.Load()
	if err != nil {
		return UserRecord{}, false, err
	}
	rec, ok := d.Users.Items[key(userID)]
	if !ok || rec == nil {
		return UserRecord{}, false, nil
	}
	return rec.clone(), true, nil
}

// ActiveUserIDs lists users that have not blocked the bot, ascending.
func (s *Store) ActiveUserIDs() ([]int64, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	var out []int64
	s.each(d, func(id int64, rec *UserRecord) {
		if rec.Active() {
			out = append(out, id)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ActiveUsernames maps active user ids to their normalized usernames.  Users
// without a username are left out.
func (s *Store) ActiveUsernames() (map[int64]string, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string)
	s.each(d, func(id int64, rec *UserRecord) {
		if !rec.Active() {
			return
		}
		if u := identity.NormalizeUsername(rec.Username); u != "" {
			out[id] = u
		}
	})
	return out, nil
}

// FindUserIDByUsername matches case-insensitively, ignoring a leading "@".
// The lowest id wins if several records share a username.
func (s *Store) FindUserIDByUsername(username string) (int64, bool, error) {
	want := identity.NormalizeUsername(username)
	if want == "" {
		return 0, false, nil
	}
	d, err := s.doc.Load()
	if err != nil {
		return 0, false, err
	}
	var (
		found int64
		ok    bool
	)
	s.each(d, func(id int64, rec *UserRecord) {
		if identity.NormalizeUsername(rec.Username) != want {
			return
		}
		if !ok || id < found {
			found, ok = id, true
		}
	})
	return found, ok, nil
}

/*──────────────────────────── dashboards ──────────────────────────────────*/

// ActiveSubscribersCount counts users that have not blocked the bot.
func (s *Store) ActiveSubscribersCount() (int, error) {
	ids, err := s.ActiveUserIDs()
	return len(ids), err
}

// SubscribedCounts counts joins per window.
func (s *Store) SubscribedCounts() (Counts, error) {
	return s.countField(func(r *UserRecord) string { return r.JoinedAt })
}

// UnsubscribedCounts counts blocks per window.
func (s *Store) UnsubscribedCounts() (Counts, error) {
	return s.countField(func(r *UserRecord) string { return r.UnsubscribedAt })
}

func (s *Store) countField(field func(*UserRecord) string) (Counts, error) {
	d, err := s.doc.Load()
	if err != nil {
		return Counts{}, err
	}
	w := s.windows()
	var c Counts
	s.each(d, func(_ int64, rec *UserRecord) {
		if ts, ok := s.parse(field(rec)); ok {
			w.add(&c, ts)
		}
	})
	return c, nil
}

// VisitCounts counts confirmed visits per window.  source "" counts all.
func (s *Store) VisitCounts(source string) (Counts, error) {
	d, err := s.doc.Load()
	if err != nil {
		return Counts{}, err
	}
	w := s.windows()
	var c Counts
	s.each(d, func(_ int64, rec *UserRecord) {
		s.visits(rec, source, func(_ VisitEvent, ts time.Time) { w.add(&c, ts) })
	})
	return c, nil
}

// UserVisits is one guest's visit history summary.
type UserVisits struct {
	Week  int `json:"week"`
	Month int `json:"month"`
	Total int `json:"total"`
}

// UserVisitCounts summarizes one user.  Total is the larger of the stored
// counter and the number of events, since old documents may lack events.
func (s *Store) UserVisitCounts(userID int64, source string) (UserVisits, error) {
	d, err := s.doc.Load()
	if err != nil {
		return UserVisits{}, err
	}
	rec, ok := d.Users.Items[key(userID)]
	if !ok || rec == nil {
		return UserVisits{}, nil
	}
	w := s.windows()
	var c Counts
	s.visits(rec, source, func(_ VisitEvent, ts time.Time) { w.add(&c, ts) })
	return UserVisits{Week: c.Week, Month: c.Month, Total: max(rec.Visits, len(rec.VisitEvents))}, nil
}

// ClickRow is one line of the clicks leaderboard.
type ClickRow struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Clicks    int    `json:"clicks"`
	Visits    int    `json:"visits"`
	Active    bool   `json:"active"`
}

// TopByClicks orders by clicks, then by user id, both descending.
func (s *Store) TopByClicks(limit int) ([]ClickRow, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	var rows []ClickRow
	s.each(d, func(id int64, rec *UserRecord) {
		rows = append(rows, ClickRow{
			UserID:    id,
			FirstName: rec.FirstName,
			Username:  rec.Username,
			Clicks:    rec.Clicks,
			Visits:    rec.Visits,
			Active:    rec.Active(),
		})
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Clicks != rows[j].Clicks {
			return rows[i].Clicks > rows[j].Clicks
		}
		return rows[i].UserID > rows[j].UserID
	})
	return truncate(rows, limit), nil
}

// HasClickInLastDays reports a click within the last days.
func (s *Store) HasClickInLastDays(userID int64, days int) (bool, error) {
	rec, ok, err := s.Get(userID)
	if err != nil || !ok || rec.Clicks <= 0 {
		return false, err
	}
	ts, ok := s.parse(rec.LastClickAt)
	if !ok {
		return false, nil
	}
	return !ts.Before(s.opts.Now().AddDate(0, 0, -days)), nil
}

/*──────────────────────────── admin attribution ───────────────────────────*/

// AdminCount is visits marked by one admin.
type AdminCount struct {
	AdminID int64 `json:"admin_id"`
	Visits  int   `json:"visits"`
}

// TopAdminsByMarkedVisits ranks admins by visits they marked in the last
// days, descending by count then admin id.
func (s *Store) TopAdminsByMarkedVisits(source string, days, limit int) ([]AdminCount, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	start := s.opts.Now().AddDate(0, 0, -days)
	counts := make(map[int64]int)
	s.each(d, func(_ int64, rec *UserRecord) {
		s.visits(rec, source, func(ev VisitEvent, ts time.Time) {
			if ev.By != 0 && !ts.Before(start) {
				counts[ev.By]++
			}
		})
	})
	rows := make([]AdminCount, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, AdminCount{AdminID: id, Visits: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Visits != rows[j].Visits {
			return rows[i].Visits > rows[j].Visits
		}
		return rows[i].AdminID > rows[j].AdminID
	})
	return truncate(rows, limit), nil
}

// AdminSummary is the per-admin dashboard.
type AdminSummary struct {
	Counts
	Total int `json:"total"`
}

// AdminMarkedSummary counts visits marked by adminID per window and in total.
func (s *Store) AdminMarkedSummary(adminID int64, source string) (AdminSummary, error) {
	d, err := s.doc.Load()
	if err != nil {
		return AdminSummary{}, err
	}
	w := s.windows()
	var sum AdminSummary
	s.each(d, func(_ int64, rec *UserRecord) {
		s.visits(rec, source, func(ev VisitEvent, ts time.Time) {
			if ev.By != adminID {
				return
			}
			sum.Total++
			w.add(&sum.Counts, ts)
		})
	})
	return sum, nil
}

// MarkedVisit is one visit an admin confirmed.
type MarkedVisit struct {
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

// AdminRecentClients pages through visits marked by adminID, newest first.
// total is the number of rows before paging.
func (s *Store) AdminRecentClients(adminID int64, offset, limit int) (rows []MarkedVisit, total int, err error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	d, err := s.doc.Load()
	if err != nil {
		return nil, 0, err
	}
	s.each(d, func(id int64, rec *UserRecord) {
		s.visits(rec, "", func(ev VisitEvent, ts time.Time) {
			if ev.By == adminID {
				rows = append(rows, MarkedVisit{UserID: id, At: ts})
			}
		})
	})
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].At.Equal(rows[j].At) {
			return rows[i].At.After(rows[j].At)
		}
		return rows[i].UserID > rows[j].UserID
	})
	total = len(rows)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return rows[offset:end], total, nil
}

/*──────────────────────────── engine inputs ───────────────────────────────*/

// MonthlyVisitCounts counts visits per user with timestamps in [from, to).
// When activeOnly is set, users that blocked the bot are left out.
func (s *Store) MonthlyVisitCounts(from, to time.Time, source string, activeOnly bool) (map[int64]int, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int)
	s.each(d, func(id int64, rec *UserRecord) {
		if activeOnly && !rec.Active() {
			return
		}
		s.visits(rec, source, func(_ VisitEvent, ts time.Time) {
			if !ts.Before(from) && ts.Before(to) {
				out[id]++
			}
		})
	})
	return out, nil
}

// LastVisits maps every user with at least one visit from source to the
// time of the latest one.
func (s *Store) LastVisits(source string) (map[int64]time.Time, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]time.Time)
	s.each(d, func(id int64, rec *UserRecord) {
		s.visits(rec, source, func(_ VisitEvent, ts time.Time) {
			if cur, ok := out[id]; !ok || ts.After(cur) {
				out[id] = ts
			}
		})
	})
	return out, nil
}

// VisitedUserIDs lists, ascending, every user with at least one visit from
// source.
func (s *Store) VisitedUserIDs(source string) ([]int64, error) {
	last, err := s.LastVisits(source)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(last))
	for id := range last {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FilterByCooldown drops ids that received a non-exempt broadcast within the
// last days.  Order is preserved.  days <= 0 disables the filter.
func (s *Store) FilterByCooldown(ids []int64, days int) ([]int64, error) {
	if days <= 0 || len(ids) == 0 {
		return ids, nil
	}
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	exempt := make(map[string]struct{}, len(s.opts.CooldownExempt))
	for _, k := range s.opts.CooldownExempt {
		exempt[k] = struct{}{}
	}
	start := s.opts.Now().AddDate(0, 0, -days)

	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		rec, ok := d.Users.Items[key(id)]
		if ok && rec != nil && s.cooling(rec, start, exempt) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) cooling(rec *UserRecord, start time.Time, exempt map[string]struct{}) bool {
	for _, ev := range rec.BroadcastEvents {
		if _, skip := exempt[ev.Kind]; skip {
			continue
		}
		if ts, ok := s.parse(ev.TS); ok && !ts.Before(start) {
			return true
		}
	}
	return false
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// Package timeutil holds the timestamp and calendar rules shared by the
// stores and engines.
//
// Stored timestamps are always written in UTC.  Older documents contain
// offset-less values; those are interpreted in a caller-supplied zone
// (normally time.Local) when read.  Calendar math (business days, months)
// happens in the reference zone only at query boundaries.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	// The reference zone must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// ErrBadTimestamp is returned for values no supported layout accepts.
var ErrBadTimestamp = errors.New("unparseable timestamp")

// naiveLayouts are offset-less forms written by older versions of the bot.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Format renders t for storage.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Parse accepts RFC 3339 values (with 'T' or a space separator) and the
// legacy offset-less forms, which are placed in naive.
func Parse(raw string, naive *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if len(s) > 10 && s[10] == ' ' {
		if t, err := time.Parse(time.RFC3339Nano, s[:10]+"T"+s[11:]); err == nil {
			return t, nil
		}
	}
	if naive == nil {
		naive = time.Local
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, naive); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
}

// Zone loads a named location.  When the name is unknown a fixed UTC+5
// offset is returned together with the load error so callers can log it.
func Zone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if alt, altErr := time.LoadLocation("Asia/Yekaterinburg"); altErr == nil {
		return alt, err
	}
	return time.FixedZone("UTC+5", 5*60*60), err
}

// BusinessDay returns the [start, end) window of the business day that
// contains now.  A business day starts at hour:00 in loc.
func BusinessDay(now time.Time, loc *time.Location, hour int) (start, end time.Time) {
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start, start.AddDate(0, 0, 1)
}

// StartOfDay is local midnight of t in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t in loc.
func MonthOf(t time.Time, loc *time.Location) Month {
	l := t.In(loc)
	return Month{Year: l.Year(), Month: l.Month()}
}

// Prev is the month before m.
func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Next is the month after m.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// Bounds returns [first instant, first instant of next month) in loc.
func (m Month) Bounds(loc *time.Location) (start, end time.Time) {
	start = time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Months lists from..to inclusive.  Empty when to is before from.
func Months(from, to Month) []Month {
	var out []Month
	for m := from; !to.Before(m); m = m.Next() {
		out = append(out, m)
	}
	return out
}

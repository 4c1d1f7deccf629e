// Package tier maps confirmed visit counts to loyalty tiers.
//
// A Table is an ascending list of thresholds.  Every count maps to exactly
// one tier; counts below the first threshold (including zero) map to the
// first tier, so a freshly issued card already carries the entry discount.
package tier

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTable    = errors.New("tier table is empty")
	ErrUnsortedTable = errors.New("tier thresholds must be strictly increasing")
)

// Tier is one rung of the ladder.
type Tier struct {
	Threshold int
	Label     string
	Badge     string
	Discount  int
}

// Display is the label as stored on cards and shown to guests, e.g. "GOLD🥇".
func (t Tier) Display() string { return t.Label + t.Badge }

// Table is ordered by Threshold, ascending.
type Table []Tier

// Default returns the historic ladder: IRON 1/3%, BRONZE 5/5%, SILVER 15/7%,
// GOLD 35/10%.
func Default() Table {
	return Table{
		{Threshold: 1, Label: "IRON", Badge: "⚙️", Discount: 3},
		{Threshold: 5, Label: "BRONZE", Badge: "🥉", Discount: 5},
		{Threshold: 15, Label: "SILVER", Badge: "🥈", Discount: 7},
		{Threshold: 35, Label: "GOLD", Badge: "🥇", Discount: 10},
	}
}

// Validate reports whether the table can be used for lookups.
func (tb Table) Validate() error {
	if len(tb) == 0 {
		return ErrEmptyTable
	}
	for i := 1; i < len(tb); i++ {
		if tb[i].Threshold <= tb[i-1].Threshold {
			return ErrUnsortedTable
		}
	}
	return nil
}

// ForVisits returns the highest tier whose threshold is <= v.
func (tb Table) ForVisits(v int) Tier {
	if len(tb) == 0 {
		return Tier{}
	}
	cur := tb[0]
	for _, t := range tb[1:] {
		if v < t.Threshold {
			break
		}
		cur = t
	}
	return cur
}

// Next returns the first tier above v and how many visits are missing.
// ok is false once v has reached the top threshold.
func (tb Table) Next(v int) (next Tier, remaining int, ok bool) {
	for _, t := range tb {
		if v < t.Threshold {
			return t, t.Threshold - v, true
		}
	}
	return Tier{}, 0, false
}

// Above is Next without the tier v already maps to, so a fresh card at zero
// visits points at the second rung instead of its own.
func (tb Table) Above(v int) (next Tier, remaining int, ok bool) {
	cur := tb.ForVisits(v)
	for _, t := range tb {
		if v < t.Threshold && t.Label != cur.Label {
			return t, t.Threshold - v, true
		}
	}
	return Tier{}, 0, false
}

// Top reports whether t is the last rung.
func (tb Table) Top(t Tier) bool {
	return len(tb) > 0 && tb[len(tb)-1].Label == t.Label
}

// Find looks a tier up by label, case-insensitively.
func (tb Table) Find(label string) (Tier, bool) {
	for _, t := range tb {
		if strings.EqualFold(t.Label, label) {
			return t, true
		}
	}
	return Tier{}, false
}

// Upgrade describes guests that are Remaining visits away from Target.
type Upgrade struct {
	Target    Tier
	Remaining int
	Visits    int
}

// UpgradeTargets lists the pre-threshold visit counts for every tier above
// the first, for remaining = maxRemaining..1.  The tier right above the
// entry one only gets remaining = 1.  Counts that would fall below the
// first threshold are skipped.
func (tb Table) UpgradeTargets(maxRemaining int) []Upgrade {
	if len(tb) < 2 {
		return nil
	}
	var out []Upgrade
	for i, t := range tb[1:] {
		window := maxRemaining
		if i == 0 {
			window = min(window, 1)
		}
		for r := window; r >= 1; r-- {
			v := t.Threshold - r
			if v < tb[0].Threshold {
				continue
			}
			out = append(out, Upgrade{Target: t, Remaining: r, Visits: v})
		}
	}
	return out
}

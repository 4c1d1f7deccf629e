// internal/segment/engine.go
//
// Segmentation Engine: resolves an audience Spec to a list of user ids.
//
// Context
// -------
// Every audience starts from the same base, active users minus the staff
// set, and then narrows it by a predicate over visits or card counters.
// All audiences except Contest finally pass through the broadcast cooldown.
//
// Notes
// -----
//   • Read-only.  Nothing here writes to any document.
//   • Results are sorted ascending so previews and sends are reproducible.
//   • The broadcast dispatcher repeats the staff check at send time; this
//     package is not the last line.
package segment

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/tier"
)

// EventSource is the part of the event store the engine reads.
type EventSource interface {
	ActiveUserIDs() ([]int64, error)
	LastVisits(source string) (map[int64]time.Time, error)
	FilterByCooldown(ids []int64, days int) ([]int64, error)
}

// CardSource lists cards for upgrade audiences.
type CardSource interface {
	List() ([]cards.Card, error)
}

// StaffSource returns the ids never targeted.
type StaffSource interface {
	StaffSet() (acl.Set, error)
}

// Options configures an Engine.
type Options struct {
	Source       string
	CooldownDays int
	Tiers        tier.Table
	// UpgradeWindow is how many visits before a threshold upgrade audiences
	// reach back.  Defaults to 2.
	UpgradeWindow int
	Now           func() time.Time
}

// Engine resolves audiences.
type Engine struct {
	events EventSource
	cards  CardSource
	staff  StaffSource
	opts   Options
	log    *zap.Logger
}

// New builds an Engine.
func New(ev EventSource, cs CardSource, staff StaffSource, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Tiers) == 0 {
		opts.Tiers = tier.Default()
	}
	if opts.UpgradeWindow <= 0 {
		opts.UpgradeWindow = 2
	}
	return &Engine{events: ev, cards: cs, staff: staff, opts: opts, log: zap.L().Named("segment")}
}

// base is active users minus staff, ascending.
func (e *Engine) base() ([]int64, acl.Set, error) {
	active, err := e.events.ActiveUserIDs()
	if err != nil {
		return nil, nil, err
	}
	staff, err := e.staff.StaffSet()
	if err != nil {
		return nil, nil, err
	}
	out := make([]int64, 0, len(active))
	for _, id := range active {
		if !staff.Has(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, staff, nil
}

// TargetsFor resolves spec.  The label is the human name of the audience.
func (e *Engine) TargetsFor(spec Spec) (string, []int64, error) {
	if spec.Kind == Upgrade {
		t, ok := e.opts.Tiers.Find(spec.Target)
		switch {
		case !ok:
			return "", nil, fmt.Errorf("%w: no tier %q", ErrUnknownSpec, spec.Target)
		case spec.Remaining <= 0:
			return "", nil, fmt.Errorf("%w: remaining visits must be positive, got %d", ErrUnknownSpec, spec.Remaining)
		case spec.Remaining > t.Threshold:
			return "", nil, fmt.Errorf("%w: %s starts at %d visits, remaining %d is out of range",
				ErrUnknownSpec, t.Label, t.Threshold, spec.Remaining)
		}
		spec.Target = t.Label
	}

	ids, staff, err := e.base()
	if err != nil {
		return "", nil, fmt.Errorf("segment %s: %w", spec, err)
	}

	switch spec.Kind {
	case All, Contest:
	case InactiveSince:
		cutoff := e.opts.Now().AddDate(0, 0, -spec.Days)
		ids, err = e.byLastVisit(ids, func(last time.Time, seen bool) bool {
			return seen && last.Before(cutoff)
		})
	case InactiveRange:
		now := e.opts.Now()
		lo, hi := now.AddDate(0, 0, -spec.MaxDays), now.AddDate(0, 0, -spec.MinDays)
		ids, err = e.byLastVisit(ids, func(last time.Time, seen bool) bool {
			return seen && !last.Before(lo) && last.Before(hi)
		})
	case NeverVisited:
		ids, err = e.byLastVisit(ids, func(_ time.Time, seen bool) bool { return !seen })
	case Upgrade:
		ids, err = e.upgrade(ids, staff, spec)
	default:
		return "", nil, fmt.Errorf("%w: kind %d", ErrUnknownSpec, spec.Kind)
	}
	if err != nil {
		return "", nil, fmt.Errorf("segment %s: %w", spec, err)
	}

	if spec.Cooled() {
		if ids, err = e.events.FilterByCooldown(ids, e.opts.CooldownDays); err != nil {
			return "", nil, fmt.Errorf("segment %s cooldown: %w", spec, err)
		}
	}
	e.log.Debug("segment resolved", zap.Stringer("spec", spec), zap.Int("targets", len(ids)))
	return spec.Label(), ids, nil
}

func (e *Engine) byLastVisit(ids []int64, keep func(last time.Time, seen bool) bool) ([]int64, error) {
	last, err := e.events.LastVisits(e.opts.Source)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		ts, seen := last[id]
		if keep(ts, seen) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (e *Engine) upgrade(ids []int64, staff acl.Set, spec Spec) ([]int64, error) {
	t, _ := e.opts.Tiers.Find(spec.Target)
	want := t.Threshold - spec.Remaining

	list, err := e.cards.List()
	if err != nil {
		return nil, err
	}
	inBase := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		inBase[id] = struct{}{}
	}
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, c := range list {
		if c.Staff || staff.Has(c.UserID) || c.Visits != want {
			continue
		}
		if _, ok := inBase[c.UserID]; !ok {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		out = append(out, c.UserID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FilterByCooldown drops ids that received a non-exempt broadcast within
// days.
func (e *Engine) FilterByCooldown(ids []int64, days int) ([]int64, error) {
	return e.events.FilterByCooldown(ids, days)
}

// Menu lists the audiences offered to admins, in display order.
func (e *Engine) Menu() []Spec {
	out := []Spec{
		{Kind: All},
		{Kind: Contest},
		{Kind: InactiveSince, Days: 14},
		{Kind: InactiveSince, Days: 30},
		{Kind: InactiveSince, Days: 60},
		{Kind: InactiveSince, Days: 90},
		{Kind: InactiveRange, MinDays: 7, MaxDays: 14},
		{Kind: InactiveRange, MinDays: 14, MaxDays: 30},
		{Kind: InactiveRange, MinDays: 30, MaxDays: 60},
		{Kind: InactiveRange, MinDays: 60, MaxDays: 120},
		{Kind: NeverVisited},
	}
	for _, u := range e.opts.Tiers.UpgradeTargets(e.opts.UpgradeWindow) {
		out = append(out, Spec{Kind: Upgrade, Target: u.Target.Label, Remaining: u.Remaining})
	}
	return out
}

// Count is one row of Counts.
type Count struct {
	Spec  string `json:"spec"`
	Label string `json:"label"`
	Size  int    `json:"size"`
}

// Counts sizes every Menu audience after cooldown.
func (e *Engine) Counts() ([]Count, error) {
	menu := e.Menu()
	out := make([]Count, 0, len(menu))
	for _, sp := range menu {
		label, ids, err := e.TargetsFor(sp)
		if err != nil {
			return nil, err
		}
		out = append(out, Count{Spec: sp.String(), Label: label, Size: len(ids)})
	}
	return out, nil
}

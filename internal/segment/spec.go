package segment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownSpec is returned for audience codes that do not parse.
var ErrUnknownSpec = errors.New("unknown segment")

// Kind selects the audience predicate.
type Kind int

const (
	All Kind = iota
	Contest
	InactiveSince
	InactiveRange
	Upgrade
	NeverVisited
)

// Spec is a parsed audience.  Only the fields of its Kind are meaningful.
type Spec struct {
	Kind      Kind
	Days      int    // InactiveSince
	MinDays   int    // InactiveRange, inclusive lower age
	MaxDays   int    // InactiveRange, exclusive upper age
	Target    string // Upgrade, tier label
	Remaining int    // Upgrade
}

// legacy maps the short codes used by older admin menus.
var legacy = map[string]Spec{
	"novis14": {Kind: InactiveSince, Days: 14},
	"novis30": {Kind: InactiveSince, Days: 30},
	"b1":      {Kind: Upgrade, Target: "BRONZE", Remaining: 1},
	"s2":      {Kind: Upgrade, Target: "SILVER", Remaining: 2},
	"s1":      {Kind: Upgrade, Target: "SILVER", Remaining: 1},
	"g2":      {Kind: Upgrade, Target: "GOLD", Remaining: 2},
	"g1":      {Kind: Upgrade, Target: "GOLD", Remaining: 1},
}

// ParseSpec reads an audience code:
//
//	all | contest | never
//	inactive:<days>
//	inactive_range:<min>:<max>
//	upgrade:<TIER>:<remaining>
//
// plus the legacy codes novis14, novis30, b1, s1, s2, g1, g2, also accepted
// as upgrade:<code>.
func ParseSpec(raw string) (Spec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	bad := func() (Spec, error) { return Spec{}, fmt.Errorf("%w: %q", ErrUnknownSpec, raw) }

	if sp, ok := legacy[s]; ok {
		return sp, nil
	}
	parts := strings.Split(s, ":")
	switch parts[0] {
	case "all":
		if len(parts) == 1 {
			return Spec{Kind: All}, nil
		}
	case "contest":
		if len(parts) == 1 {
			return Spec{Kind: Contest}, nil
		}
	case "never":
		if len(parts) == 1 {
			return Spec{Kind: NeverVisited}, nil
		}
	case "inactive":
		if len(parts) == 2 {
			if d, err := strconv.Atoi(parts[1]); err == nil && d > 0 {
				return Spec{Kind: InactiveSince, Days: d}, nil
			}
		}
	case "inactive_range":
		if len(parts) == 3 {
			lo, err1 := strconv.Atoi(parts[1])
			hi, err2 := strconv.Atoi(parts[2])
			if err1 == nil && err2 == nil && lo >= 0 && hi > lo {
				return Spec{Kind: InactiveRange, MinDays: lo, MaxDays: hi}, nil
			}
		}
	case "upgrade":
		if len(parts) == 2 {
			if sp, ok := legacy[parts[1]]; ok && sp.Kind == Upgrade {
				return sp, nil
			}
		}
		if len(parts) == 3 {
			if r, err := strconv.Atoi(parts[2]); err == nil && r > 0 && parts[1] != "" {
				return Spec{Kind: Upgrade, Target: strings.ToUpper(parts[1]), Remaining: r}, nil
			}
		}
	}
	return bad()
}

// String is the canonical code, accepted by ParseSpec.
func (s Spec) String() string {
	switch s.Kind {
	case Contest:
		return "contest"
	case NeverVisited:
		return "never"
	case InactiveSince:
		return fmt.Sprintf("inactive:%d", s.Days)
	case InactiveRange:
		return fmt.Sprintf("inactive_range:%d:%d", s.MinDays, s.MaxDays)
	case Upgrade:
		return fmt.Sprintf("upgrade:%s:%d", s.Target, s.Remaining)
	default:
		return "all"
	}
}

// Label is the audience name shown to admins.
func (s Spec) Label() string {
	switch s.Kind {
	case Contest:
		return "Конкурс"
	case NeverVisited:
		return "Ни разу не был"
	case InactiveSince:
		return fmt.Sprintf("Давно не был: %d дней", s.Days)
	case InactiveRange:
		return fmt.Sprintf("Давно не был: %d-%d дней", s.MinDays, s.MaxDays)
	case Upgrade:
		return fmt.Sprintf("Апгрейд: до %s (%d %s)", s.Target, s.Remaining, Visits(s.Remaining))
	default:
		return "Всем"
	}
}

// Cooled reports whether the broadcast cooldown applies to the audience.
func (s Spec) Cooled() bool { return s.Kind != Contest }

// Visits picks the Russian plural of "визит" for n.
func Visits(n int) string {
	n %= 100
	if n < 0 {
		n = -n
	}
	switch {
	case n >= 11 && n <= 14:
		return "визитов"
	case n%10 == 1:
		return "визит"
	case n%10 >= 2 && n%10 <= 4:
		return "визита"
	default:
		return "визитов"
	}
}

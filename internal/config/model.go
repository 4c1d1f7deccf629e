// internal/config/model.go
//
// Typed configuration model for the lounge bot.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                          – dotenv values,
//   • `conf/global.yaml`                       – primary static file,
//   • `LOUNGE_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client before unmarshalling, so the model never stores
// Vault references, only plain strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • Defaults are applied after unmarshal and before validation, see
//     defaults.go.

package config

import (
	"time"

	"github.com/yanizio/loungebot/internal/tier"
)

//
// Bot section
//

// Bot holds Telegram transport settings.  Source is the tag stamped on every
// visit and broadcast event this instance writes.
type Bot struct {
	Token       string `koanf:"token"        validate:"required"`
	Source      string `koanf:"source"       validate:"required,lowercase"`
	PollTimeout int    `koanf:"poll_timeout" validate:"gte=0,lte=60"`
	APIDebug    bool   `koanf:"api_debug"`
}

//
// Paths section
//

// Paths locates the JSON documents and log files.  Relative values are
// resolved against Root, which the loader discovers at runtime.
type Paths struct {
	Root    string `koanf:"-"`
	DataDir string `koanf:"data_dir" validate:"required"`
	LogDir  string `koanf:"log_dir"  validate:"required"`
}

//
// HTTP section
//

// HTTP holds the ops server tunables.  An empty ListenAddr disables it.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"omitempty,hostname_port"`
	APIToken   string `koanf:"api_token"`
}

// Log toggles debug output.
type Log struct {
	Debug bool `koanf:"debug"`
}

//
// Loyalty section
//

// Tier is one row of the tier table.
type Tier struct {
	Threshold int    `koanf:"threshold" validate:"gte=1"`
	Label     string `koanf:"label"     validate:"required"`
	Badge     string `koanf:"badge"`
	Discount  int    `koanf:"discount"  validate:"gte=0,lte=100"`
}

// Award is the reward for one leaderboard place.
type Award struct {
	Place int    `koanf:"place" validate:"gte=1"`
	Bonus int    `koanf:"bonus" validate:"gte=0,lte=100"`
	Medal string `koanf:"medal"`
}

// Staff holds the labels and discount shown on staff cards.
type Staff struct {
	AdminLabel      string `koanf:"admin_label"      validate:"required"`
	SuperadminLabel string `koanf:"superadmin_label" validate:"required"`
	Discount        int    `koanf:"discount"         validate:"gte=0,lte=100"`
}

// Loyalty carries every business rule that used to be a constant.
type Loyalty struct {
	Timezone        string   `koanf:"timezone"          validate:"required"`
	BusinessDayHour int      `koanf:"business_day_hour" validate:"gte=0,lte=23"`
	LaunchMonth     string   `koanf:"launch_month"      validate:"required,datetime=2006-01"`
	LegacySource    string   `koanf:"legacy_source"     validate:"required"`
	CooldownDays    int      `koanf:"cooldown_days"     validate:"gte=0"`
	ExemptKinds     []string `koanf:"exempt_kinds"`
	Tiers           []Tier   `koanf:"tiers"             validate:"required,min=1,dive"`
	Awards          []Award  `koanf:"awards"            validate:"dive"`
	Staff           Staff    `koanf:"staff"`
}

// Launch returns the first month of the leaderboard.
func (l Loyalty) Launch() time.Time {
	t, err := time.Parse("2006-01", l.LaunchMonth)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TierTable converts the configured rows into a tier.Table.
func (l Loyalty) TierTable() tier.Table {
	out := make(tier.Table, 0, len(l.Tiers))
	for _, t := range l.Tiers {
		out = append(out, tier.Tier{
			Threshold: t.Threshold,
			Label:     t.Label,
			Badge:     t.Badge,
			Discount:  t.Discount,
		})
	}
	return out
}

//
// Roles section
//

// Roles lists the superadmin Telegram ids.  There is no built-in fallback.
type Roles struct {
	SuperadminIDs []int64 `koanf:"superadmin_ids" validate:"required,min=1,dive,gt=0"`
}

// Broadcast holds delivery pacing.
type Broadcast struct {
	Pace time.Duration `koanf:"pace" validate:"gte=0"`
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads.
type Config struct {
	Bot       Bot       `koanf:"bot"`
	Paths     Paths     `koanf:"paths"`
	HTTP      HTTP      `koanf:"http"`
	Log       Log       `koanf:"log"`
	Loyalty   Loyalty   `koanf:"loyalty"`
	Roles     Roles     `koanf:"roles"`
	Broadcast Broadcast `koanf:"broadcast"`
}

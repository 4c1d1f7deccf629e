// internal/config/defaults.go
//
// Defaults for values the YAML file may omit.  Applied after unmarshal so an
// explicit zero in YAML or env is only overridden where zero is meaningless.

package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultSource       = "lounge"
	DefaultTimezone     = "Asia/Tyumen"
	DefaultLaunchMonth  = "2026-03"
	DefaultBusinessHour = 6
	DefaultCooldownDays = 7
	DefaultPollTimeout  = 30
	DefaultPace         = 50 * time.Millisecond
)

// DefaultTiers mirrors the historic card ladder.
var DefaultTiers = []Tier{
	{Threshold: 1, Label: "IRON", Badge: "⚙️", Discount: 3},
	{Threshold: 5, Label: "BRONZE", Badge: "🥉", Discount: 5},
	{Threshold: 15, Label: "SILVER", Badge: "🥈", Discount: 7},
	{Threshold: 35, Label: "GOLD", Badge: "🥇", Discount: 10},
}

// DefaultAwards are the monthly rewards for places one to three.
var DefaultAwards = []Award{
	{Place: 1, Bonus: 10, Medal: "🥇"},
	{Place: 2, Bonus: 6, Medal: "🥈"},
	{Place: 3, Bonus: 3, Medal: "🥉"},
}

func applyDefaults(c *Config) {
	if c.Bot.Source == "" {
		c.Bot.Source = DefaultSource
	}
	if c.Bot.PollTimeout == 0 {
		c.Bot.PollTimeout = DefaultPollTimeout
	}

	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "data"
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "logs"
	}
	if !filepath.IsAbs(c.Paths.DataDir) {
		c.Paths.DataDir = filepath.Join(c.Paths.Root, c.Paths.DataDir)
	}
	if !filepath.IsAbs(c.Paths.LogDir) {
		c.Paths.LogDir = filepath.Join(c.Paths.Root, c.Paths.LogDir)
	}

	l := &c.Loyalty
	if l.Timezone == "" {
		l.Timezone = DefaultTimezone
	}
	if l.BusinessDayHour == 0 {
		l.BusinessDayHour = DefaultBusinessHour
	}
	if l.LaunchMonth == "" {
		l.LaunchMonth = DefaultLaunchMonth
	}
	if l.LegacySource == "" {
		l.LegacySource = DefaultSource
	}
	if l.CooldownDays == 0 {
		l.CooldownDays = DefaultCooldownDays
	}
	if l.ExemptKinds == nil {
		l.ExemptKinds = []string{"contest"}
	}
	if len(l.Tiers) == 0 {
		l.Tiers = append([]Tier(nil), DefaultTiers...)
	}
	if l.Awards == nil {
		l.Awards = append([]Award(nil), DefaultAwards...)
	}
	if l.Staff.AdminLabel == "" {
		l.Staff.AdminLabel = "ADMIN🐧"
	}
	if l.Staff.SuperadminLabel == "" {
		l.Staff.SuperadminLabel = "SUPERADMIN🥷"
	}
	if l.Staff.Discount == 0 {
		l.Staff.Discount = 10
	}

	if c.Broadcast.Pace == 0 {
		c.Broadcast.Pace = DefaultPace
	}
}

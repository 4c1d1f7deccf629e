// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` immediately after defaults are applied.  Any
// validation error aborts startup, so the bot never runs with a malformed
// tier table or an empty superadmin list.
//
// Besides field tags, one struct-level rule checks the loyalty section:
// tier thresholds must be strictly increasing and award places unique.

package config

import (
	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterStructValidation(loyaltyRules, Loyalty{})
	return val
}

func loyaltyRules(sl validator.StructLevel) {
	l := sl.Current().Interface().(Loyalty)

	for i := 1; i < len(l.Tiers); i++ {
		if l.Tiers[i].Threshold <= l.Tiers[i-1].Threshold {
			sl.ReportError(l.Tiers, "Tiers", "tiers", "ascending", "")
			break
		}
	}

	seen := make(map[int]struct{}, len(l.Awards))
	for _, a := range l.Awards {
		if _, dup := seen[a.Place]; dup {
			sl.ReportError(l.Awards, "Awards", "awards", "unique_place", "")
			break
		}
		seen[a.Place] = struct{}{}
	}
}

//
// public API
//

// validateStruct returns the validation errors, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}

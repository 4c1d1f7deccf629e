// internal/acl/validate.go
//
// Username validation for admin management commands.  Telegram usernames
// are 5 to 32 characters of Latin letters, digits, and underscores.

package acl

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/yanizio/loungebot/internal/identity"
)

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	if err := val.RegisterValidation("tgusername", func(fl validator.FieldLevel) bool {
		return usernameRE.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return val
}

// ValidateUsername normalizes s and checks it is a plausible Telegram
// username.  The normalized form is returned.
func ValidateUsername(s string) (string, error) {
	u := identity.NormalizeUsername(s)
	if err := v.Var(u, "required,tgusername"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, s)
	}
	return u, nil
}

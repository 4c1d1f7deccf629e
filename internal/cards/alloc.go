package cards

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Card numbers are four digits in [0010, 9998].  Repdigits (1111 … 8888)
// are never issued.
const (
	MinNumber      = 10
	MaxNumber      = 9998
	randomAttempts = 5000
)

// ErrCardSpaceExhausted means every valid number is taken.
var ErrCardSpaceExhausted = errors.New("no free card numbers left")

// drawInt returns a uniform value in [0, n).  Tests replace it.
var drawInt = secureInt

func secureInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func formatNumber(n int) string { return fmt.Sprintf("%04d", n) }

func isRepdigit(n int) bool {
	s := formatNumber(n)
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// allocate picks an unused number: random draws first, then an ascending
// scan so a nearly full space still terminates.
func allocate(used func(string) bool) (string, error) {
	span := MaxNumber - MinNumber + 1
	for i := 0; i < randomAttempts; i++ {
		r, err := drawInt(span)
		if err != nil {
			break
		}
		n := MinNumber + r
		if isRepdigit(n) {
			continue
		}
		if s := formatNumber(n); !used(s) {
			return s, nil
		}
	}
	for n := MinNumber; n <= MaxNumber; n++ {
		if isRepdigit(n) {
			continue
		}
		if s := formatNumber(n); !used(s) {
			return s, nil
		}
	}
	return "", ErrCardSpaceExhausted
}

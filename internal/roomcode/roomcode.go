// Package roomcode generates and validates the short human-typeable codes
// that partition one game session's channels and shared state from all
// others.
package roomcode

import (
	"errors"
	"strings"

	"github.com/valyala/fastrand"
)

const (
	// MinLen and MaxLen bound a valid room code.
	MinLen = 4
	MaxLen = 8

	// generatedLen is the length of codes we hand out. Ambiguous glyphs
	// (0/O, 1/I) are excluded so codes survive being read out loud.
	generatedLen = 6
	alphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	ErrEmpty     = errors.New("room code is empty")
	ErrBadLength = errors.New("room code must be 4-8 letters or numbers")
)

// Generate returns a fresh room code.
func Generate() string {
	var b strings.Builder
	b.Grow(generatedLen)
	for i := 0; i < generatedLen; i++ {
		b.WriteByte(alphabet[fastrand.Uint32n(uint32(len(alphabet)))])
	}
	return b.String()
}

// Normalize uppercases the input and strips everything that is not an
// ASCII letter or digit. Codes are case-insensitive on entry.
func Normalize(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(input)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate checks the format of an already-normalized code. It must be
// called before any channel or bucket interaction (invalid codes are a
// synchronous user error, not a lookup miss).
func Validate(code string) error {
	if code == "" {
		return ErrEmpty
	}
	if len(code) < MinLen || len(code) > MaxLen {
		return ErrBadLength
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return ErrBadLength
		}
	}
	return nil
}

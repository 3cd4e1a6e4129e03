// Package sequence computes ticket display codes: a per-day letter prefix
// plus a day-scoped numeric suffix. The letter comes from one of two
// policies; the suffix counter itself is allocated atomically by the store.
package sequence

import (
	"fmt"
	"strconv"
	"time"
	"unicode"
)

type Policy string

const (
	// PolicyRotate advances the letter one step per calendar day from the
	// epoch date (epoch day is A, wrapping after Z).
	PolicyRotate Policy = "rotate"
	// PolicyFixed uses A every day; only the suffix resets daily.
	PolicyFixed Policy = "fixed"
)

// DefaultEpoch anchors the rotating policy.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type Letterer struct {
	policy Policy
	epoch  time.Time
}

func New(policy Policy, epoch time.Time) Letterer {
	if policy != PolicyFixed {
		policy = PolicyRotate
	}
	if epoch.IsZero() {
		epoch = DefaultEpoch
	}
	return Letterer{policy: policy, epoch: epoch}
}

// LetterFor returns the code letter for a business day.
func (l Letterer) LetterFor(day time.Time) string {
	if l.policy == PolicyFixed {
		return "A"
	}
	days := calendarDaysBetween(l.epoch, day)
	idx := ((days % 26) + 26) % 26
	return string(rune('A' + idx))
}

// Format renders a code. The suffix is zero-padded to a minimum width of
// two and widens naturally past 99 (A99, A100, ...), so a day can exceed
// a hundred tickets without reusing codes.
func Format(letter string, n int) string {
	return fmt.Sprintf("%s%02d", letter, n)
}

// Parse splits a display code into its letter and suffix.
func Parse(code string) (string, int, error) {
	if len(code) < 3 {
		return "", 0, fmt.Errorf("code %q too short", code)
	}
	letter := rune(code[0])
	if !unicode.IsUpper(letter) {
		return "", 0, fmt.Errorf("code %q has no letter prefix", code)
	}
	n, err := strconv.Atoi(code[1:])
	if err != nil {
		return "", 0, fmt.Errorf("code %q has a bad suffix: %w", code, err)
	}
	return string(letter), n, nil
}

func calendarDaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}

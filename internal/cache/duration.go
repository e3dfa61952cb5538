package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Compact duration units. M and y are fixed-length approximations (30 and
// 365 days) rather than calendar months/years, so the grammar stays a pure
// sum of durations.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var unitDurations = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': Day,
	'w': Week,
	'M': Month,
	'y': Year,
}

// canonicalOrder lists units from largest to smallest; Format walks it to
// produce the canonical printed form.
var canonicalOrder = []byte{'y', 'M', 'w', 'd', 'h', 'm', 's'}

var (
	tokenPattern = regexp.MustCompile(`([0-9]+)([smhdwMy])`)
	fullPattern  = regexp.MustCompile(`^([0-9]+[smhdwMy])+$`)
)

// ParseDuration parses the compact duration grammar `(<int><unit>)+`,
// e.g. "30d", "1y", "6M15d". Whitespace anywhere in the string is rejected.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return 0, fmt.Errorf("duration: whitespace not allowed in %q", s)
	}
	if !fullPattern.MatchString(s) {
		return 0, fmt.Errorf("duration: invalid form %q", s)
	}

	var total time.Duration
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("duration: invalid count in %q: %w", s, err)
		}
		total += time.Duration(n) * unitDurations[m[2][0]]
	}
	return total, nil
}

// FormatDuration renders d in the canonical compact form: the largest unit
// first, each unit appearing at most once. Any sub-second remainder is
// dropped, so ParseDuration(FormatDuration(d)) == d holds for every
// non-negative whole number of seconds.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	neg := d < 0
	if neg {
		d = -d
	}

	var b strings.Builder
	for _, unit := range canonicalOrder {
		unitDur := unitDurations[unit]
		if d < unitDur {
			continue
		}
		n := d / unitDur
		d -= n * unitDur
		fmt.Fprintf(&b, "%d%c", n, unit)
	}

	out := b.String()
	if neg {
		out = "-" + out
	}
	return out
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30d":   30 * Day,
		"1y":    Year,
		"6M15d": 6*Month + 15*Day,
		"1y30d": Year + 30*Day,
		"90s":   90 * time.Second,
		"5m":    5 * time.Minute,
		"2h":    2 * time.Hour,
		"3w":    3 * Week,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseDurationRejectsWhitespace(t *testing.T) {
	_, err := ParseDuration("30 d")
	require.Error(t, err)
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "d30", "30", "30x", "-30d"} {
		_, err := ParseDuration(in)
		require.Error(t, err, in)
	}
}

func TestFormatDurationIsCanonical(t *testing.T) {
	cases := map[time.Duration]string{
		0:                 "0s",
		30 * Day:          "1M",
		Year + 30*Day:     "1y1M",
		90 * time.Second:  "1m30s",
		Week:              "1w",
	}
	for d, want := range cases {
		require.Equal(t, want, FormatDuration(d))
	}
}

func TestFormatDurationParsesBackToItself(t *testing.T) {
	for _, d := range []time.Duration{
		time.Second,
		90 * time.Second,
		Day,
		Week,
		Month,
		Year,
		Year + Month + Week + Day + time.Hour + time.Minute + time.Second,
	} {
		got, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
}

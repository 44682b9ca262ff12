package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		spec string
		want time.Time
	}{
		{"every 1 minute", base.Add(time.Minute)},
		{"every 30 seconds", base.Add(30 * time.Second)},
		{"Every 2 Hours", base.Add(2 * time.Hour)},
		{"every 1d", base.Add(24 * time.Hour)},
		{"@every 5m", base.Add(5 * time.Minute)},
		{"@hourly", base.Add(time.Hour)},
		{"*/15 * * * *", base.Add(15 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			got, err := NextRun(tc.spec, base)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	for _, spec := range []string{"", "every", "every 0 minutes", "every 3 fortnights", "not a cron"} {
		_, err := ParseInterval(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

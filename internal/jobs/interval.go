package jobs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// "every 1 minute", "every 30 seconds", "every 2h"
var everyRe = regexp.MustCompile(`^every\s+(\d+)\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)

// ParseInterval accepts human "every N unit" specs, robfig descriptors
// ("@every 1m", "@hourly") and standard 5-field cron expressions.
func ParseInterval(spec string) (cron.Schedule, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if s == "" {
		return nil, fmt.Errorf("empty interval spec")
	}

	if m := everyRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid interval %q", spec)
		}
		var unit time.Duration
		switch m[2][0] {
		case 's':
			unit = time.Second
		case 'm':
			unit = time.Minute
		case 'h':
			unit = time.Hour
		case 'd':
			unit = 24 * time.Hour
		}
		return cron.Every(time.Duration(n) * unit), nil
	}

	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", spec, err)
	}
	return sched, nil
}

// NextRun returns the first activation of spec strictly after now.
func NextRun(spec string, now time.Time) (time.Time, error) {
	sched, err := ParseInterval(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

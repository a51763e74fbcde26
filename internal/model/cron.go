package model

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron returns the interval between two consecutive activations of
// a standard 5 field cron expression or a descriptor like @hourly or @every 5m.
func ParseCron(expr string) (time.Duration, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("empty cron expression")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, err
	}
	ref := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	first := sched.Next(ref)
	second := sched.Next(first)
	return second.Sub(first), nil
}

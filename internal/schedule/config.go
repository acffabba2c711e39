// Package schedule is the pure recurrence layer: it converts user-facing
// schedule configurations to crontab expression sets, describes them, and
// computes future run times. Nothing here touches the clock except to
// evaluate "next occurrence after t".
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode selects how the recurrence is expressed.
type Mode string

const (
	ModeDaily    Mode = "daily"
	ModeWeekly   Mode = "weekly"
	ModeInterval Mode = "interval"
)

// DefaultCrontab is used when a config carries no usable recurrence fields.
const DefaultCrontab = "0 8 * * *"

// Config is the user-facing recurrence definition.
// When Crontab is non-empty it overrides the mode-specific fields.
type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Mode    Mode `json:"mode" yaml:"mode"`

	// Daily/weekly: "HH:MM" times of day.
	Times []string `json:"times,omitempty" yaml:"times,omitempty"`

	// Weekly: weekdays, 0=Sunday .. 6=Saturday.
	Days []int `json:"days,omitempty" yaml:"days,omitempty"`

	// Interval: run every IntervalHours hours between StartTime and EndTime.
	IntervalHours int    `json:"intervalHours,omitempty" yaml:"interval_hours,omitempty"`
	StartTime     string `json:"startTime,omitempty" yaml:"start_time,omitempty"`
	EndTime       string `json:"endTime,omitempty" yaml:"end_time,omitempty"`

	// Explicit crontab override; may be several ';'-joined 5-field expressions.
	Crontab string `json:"crontab,omitempty" yaml:"crontab,omitempty"`
}

// Effective returns the expression set this config schedules by: the explicit
// crontab when set, otherwise the expressions derived from the mode fields.
func (c Config) Effective() string {
	if strings.TrimSpace(c.Crontab) != "" {
		return strings.TrimSpace(c.Crontab)
	}
	return FromConfig(c)
}

// FromConfig derives the crontab expression set from the mode-specific
// fields. Times that share no common minute pattern produce multiple
// ';'-joined expressions.
func FromConfig(cfg Config) string {
	switch cfg.Mode {
	case ModeDaily:
		return dailyToCrontab(cfg.Times)
	case ModeWeekly:
		return weeklyToCrontab(cfg.Times, cfg.Days)
	case ModeInterval:
		return intervalToCrontab(cfg.IntervalHours, cfg.StartTime, cfg.EndTime)
	default:
		return DefaultCrontab
	}
}

func dailyToCrontab(times []string) string {
	groups := groupByMinute(times)
	if len(groups) == 0 {
		return DefaultCrontab
	}
	exprs := make([]string, 0, len(groups))
	for _, g := range groups {
		exprs = append(exprs, fmt.Sprintf("%d %s * * *", g.minute, joinInts(g.hours)))
	}
	return strings.Join(exprs, ";")
}

func weeklyToCrontab(times []string, days []int) string {
	dayField := formatDays(days)
	groups := groupByMinute(times)
	if len(groups) == 0 {
		return fmt.Sprintf("0 8 * * %s", dayField)
	}
	exprs := make([]string, 0, len(groups))
	for _, g := range groups {
		exprs = append(exprs, fmt.Sprintf("%d %s * * %s", g.minute, joinInts(g.hours), dayField))
	}
	return strings.Join(exprs, ";")
}

func intervalToCrontab(intervalHours int, startTime, endTime string) string {
	startHour, startMinute, ok := parseHHMM(startTime)
	if !ok {
		startHour, startMinute = 8, 0
	}
	endHour := 23
	if h, _, ok := parseHHMM(endTime); ok {
		endHour = h
	}

	var hours []int
	if intervalHours > 0 {
		for h := startHour; h <= endHour; h += intervalHours {
			hours = append(hours, h)
		}
	}
	if len(hours) == 0 {
		// Degenerate interval: fall back to a single occurrence at the start time.
		hours = []int{startHour}
	}
	return fmt.Sprintf("%d %s * * *", startMinute, joinInts(hours))
}

type minuteGroup struct {
	minute int
	hours  []int
}

// groupByMinute buckets "HH:MM" times by minute-of-hour so each distinct
// minute yields one cron expression listing all of its hours. Unparseable
// times are skipped.
func groupByMinute(times []string) []minuteGroup {
	byMinute := map[int][]int{}
	for _, t := range times {
		h, m, ok := parseHHMM(t)
		if !ok {
			continue
		}
		byMinute[m] = append(byMinute[m], h)
	}

	minutes := make([]int, 0, len(byMinute))
	for m := range byMinute {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	groups := make([]minuteGroup, 0, len(minutes))
	for _, m := range minutes {
		hours := dedupeInts(byMinute[m])
		groups = append(groups, minuteGroup{minute: m, hours: hours})
	}
	return groups
}

// formatDays renders a weekday set as a cron day-of-week field. A set that is
// contiguous when sorted collapses to a range; otherwise members are listed.
func formatDays(days []int) string {
	valid := make([]int, 0, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			valid = append(valid, d)
		}
	}
	valid = dedupeInts(valid)
	if len(valid) == 0 || len(valid) == 7 {
		return "*"
	}
	if len(valid) == 1 {
		return strconv.Itoa(valid[0])
	}

	contiguous := true
	for i := 1; i < len(valid); i++ {
		if valid[i] != valid[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous {
		return fmt.Sprintf("%d-%d", valid[0], valid[len(valid)-1])
	}
	return joinInts(valid)
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func dedupeInts(vals []int) []int {
	sort.Ints(vals)
	out := vals[:0]
	for i, v := range vals {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseResult is the outcome of validating a crontab expression set.
type ParseResult struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Description string      `json:"description,omitempty"`
	NextRuns    []time.Time `json:"nextRuns,omitempty"`
}

// DefaultPreviewRuns is how many upcoming occurrences Parse previews.
const DefaultPreviewRuns = 5

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a ';'-joined crontab expression set and, when valid,
// attaches a human-readable description and the next few run times.
func Parse(exprSet string) ParseResult {
	exprs := splitExprSet(exprSet)
	if len(exprs) == 0 {
		return ParseResult{Valid: false, Error: "empty crontab expression"}
	}

	for _, expr := range exprs {
		if len(strings.Fields(expr)) != 5 {
			return ParseResult{Valid: false, Error: fmt.Sprintf("expression %q must have 5 fields", expr)}
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return ParseResult{Valid: false, Error: fmt.Sprintf("invalid expression %q: %v", expr, err)}
		}
	}

	return ParseResult{
		Valid:       true,
		Description: Describe(exprSet),
		NextRuns:    NextRuns(exprSet, DefaultPreviewRuns, time.Now()),
	}
}

// Describe renders the expression set for display. Identical descriptions
// from different sub-expressions are deduplicated before joining. This is a
// display aid only; scheduling never depends on it.
func Describe(exprSet string) string {
	exprs := splitExprSet(exprSet)
	var parts []string
	seen := map[string]bool{}
	for _, expr := range exprs {
		d := describeExpr(expr)
		if !seen[d] {
			seen[d] = true
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "; ")
}

// NextRuns evaluates every sub-expression after `from`, drawing `count`
// occurrences from each, then merges, deduplicates and sorts the candidates.
// Drawing count from each sub-expression matters: the first occurrence of one
// expression may sort after several occurrences of another.
func NextRuns(exprSet string, count int, from time.Time) []time.Time {
	if count <= 0 {
		return nil
	}

	seen := map[int64]bool{}
	var candidates []time.Time
	for _, expr := range splitExprSet(exprSet) {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			continue
		}
		t := from
		for i := 0; i < count; i++ {
			t = sched.Next(t)
			if t.IsZero() {
				break
			}
			if !seen[t.Unix()] {
				seen[t.Unix()] = true
				candidates = append(candidates, t)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func splitExprSet(exprSet string) []string {
	var exprs []string
	for _, part := range strings.Split(exprSet, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			exprs = append(exprs, part)
		}
	}
	return exprs
}

func describeExpr(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return customDescription(expr)
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	// Non-wildcard day-of-month/month or step syntax is beyond the shapes the
	// config modes produce; call it a custom schedule.
	if dom != "*" || month != "*" || strings.Contains(expr, "/") {
		return customDescription(expr)
	}

	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 || m > 59 {
		return customDescription(expr)
	}

	dayPrefix, ok := describeDays(dow)
	if !ok {
		return customDescription(expr)
	}

	if hour == "*" {
		if dayPrefix == "daily" {
			return fmt.Sprintf("every hour at :%02d", m)
		}
		return fmt.Sprintf("%s, every hour at :%02d", dayPrefix, m)
	}

	var times []string
	for _, h := range strings.Split(hour, ",") {
		hv, err := strconv.Atoi(h)
		if err != nil || hv < 0 || hv > 23 {
			return customDescription(expr)
		}
		times = append(times, fmt.Sprintf("%02d:%02d", hv, m))
	}
	return fmt.Sprintf("%s at %s", dayPrefix, strings.Join(times, ", "))
}

func describeDays(dow string) (string, bool) {
	switch dow {
	case "*":
		return "daily", true
	case "1-5":
		return "workdays", true
	case "0,6", "6,0":
		return "weekends", true
	}

	var names []string
	for _, d := range strings.Split(dow, ",") {
		lo, hi, ok := parseDayToken(d)
		if !ok {
			return "", false
		}
		for v := lo; v <= hi; v++ {
			names = append(names, time.Weekday(v).String()[:3])
		}
	}
	if len(names) == 0 {
		return "", false
	}
	return strings.Join(names, ", "), true
}

func parseDayToken(tok string) (lo, hi int, ok bool) {
	if los, his, found := strings.Cut(tok, "-"); found {
		l, err1 := strconv.Atoi(los)
		h, err2 := strconv.Atoi(his)
		if err1 != nil || err2 != nil || l < 0 || h > 6 || l > h {
			return 0, 0, false
		}
		return l, h, true
	}
	v, err := strconv.Atoi(tok)
	if err != nil || v < 0 || v > 6 {
		return 0, 0, false
	}
	return v, v, true
}

func customDescription(expr string) string {
	return fmt.Sprintf("custom schedule (%s)", expr)
}

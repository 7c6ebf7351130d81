// Package cronsched implements the 5-field cron grammar and tick loop of
// architecture.md §4.5. The grammar is spec-owned (field bounds, day-OR
// semantics, the next-occurrence search bound) rather than a generic
// industry cron dialect, so it is hand-parsed instead of pulled from a
// third-party cron library — literal scenarios from the spec's examples
// need to drive the parser's tests directly, the way the teacher hand-rolls
// its own delta-link and path-normalization parsers rather than reaching
// for a generic library when the grammar is a first-class contract.
package cronsched

import (
	"strconv"
	"strings"
	"time"

	"github.com/disconnec/FeiSync/internal/ferr"
)

// fieldBounds is the inclusive [min, max] range for one of the 5 fields.
type fieldBounds struct {
	min, max int
}

var (
	minuteBounds = fieldBounds{0, 59}
	hourBounds   = fieldBounds{0, 23}
	domBounds    = fieldBounds{1, 31}
	monthBounds  = fieldBounds{1, 12}
	dowBounds    = fieldBounds{0, 7} // 7 normalizes to 0
)

var monthAliases = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowAliases = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Schedule is a parsed 5-field cron expression ready for occurrence queries.
type Schedule struct {
	minutes map[int]bool
	hours   map[int]bool
	doms    map[int]bool
	months  map[int]bool
	dows    map[int]bool

	domWildcard bool
	dowWildcard bool

	raw string
}

// Parse parses a 5-field cron expression: minute hour dom month dow.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, ferr.Newf(ferr.ErrInvalidCron, "expected 5 fields, got %d: %q", len(fields), expr)
	}

	minutes, err := parseField(fields[0], minuteBounds, nil)
	if err != nil {
		return nil, wrapFieldErr("minute", err)
	}

	hours, err := parseField(fields[1], hourBounds, nil)
	if err != nil {
		return nil, wrapFieldErr("hour", err)
	}

	doms, err := parseField(fields[2], domBounds, nil)
	if err != nil {
		return nil, wrapFieldErr("day-of-month", err)
	}

	months, err := parseField(fields[3], monthBounds, monthAliases)
	if err != nil {
		return nil, wrapFieldErr("month", err)
	}

	dows, err := parseField(fields[4], dowBounds, dowAliases)
	if err != nil {
		return nil, wrapFieldErr("day-of-week", err)
	}

	// Normalize dow 7 -> 0 (both represent Sunday).
	if dows[7] {
		delete(dows, 7)
		dows[0] = true
	}

	return &Schedule{
		minutes: minutes, hours: hours, doms: doms, months: months, dows: dows,
		domWildcard: fields[2] == "*" || fields[2] == "?",
		dowWildcard: fields[4] == "*" || fields[4] == "?",
		raw:         expr,
	}, nil
}

func wrapFieldErr(field string, err error) error {
	return ferr.Newf(ferr.ErrInvalidCron, "%s field: %v", field, err)
}

// parseField parses one comma-separated field into the set of matching
// integer values, applying aliases (if any), clamping out-of-range numeric
// literals to bounds, and validating ascending ranges and positive steps.
func parseField(field string, bounds fieldBounds, aliases map[string]int) (map[int]bool, error) {
	result := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, bounds, aliases, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func parsePart(part string, bounds fieldBounds, aliases map[string]int, out map[int]bool) error {
	base, step := part, 1

	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		base = part[:idx]

		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return ferr.Newf(ferr.ErrInvalidCron, "step must be a positive integer: %q", part)
		}

		step = s
	}

	lo, hi := bounds.min, bounds.max

	switch {
	case base == "*" || base == "?":
		// full range, handled below
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)

		a, err := resolveValue(parts[0], aliases)
		if err != nil {
			return err
		}

		b, err := resolveValue(parts[1], aliases)
		if err != nil {
			return err
		}

		if a > b {
			return ferr.Newf(ferr.ErrInvalidCron, "range must be ascending: %q", base)
		}

		lo, hi = a, b
	default:
		v, err := resolveValue(base, aliases)
		if err != nil {
			return err
		}

		lo, hi = v, v
	}

	lo = clamp(lo, bounds.min, bounds.max)
	hi = clamp(hi, bounds.min, bounds.max)

	for v := lo; v <= hi; v += step {
		out[v] = true
	}

	return nil
}

func resolveValue(s string, aliases map[string]int) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if aliases != nil {
		if v, ok := aliases[s]; ok {
			return v, nil
		}
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, ferr.Newf(ferr.ErrInvalidCron, "not a valid value: %q", s)
	}

	return v, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// searchHorizon bounds Next's forward search, per architecture.md §4.5.
const searchHorizon = 366 * 24 * time.Hour

// Next returns the first instant strictly after from that matches s,
// searching in 1-minute steps up to a one-year horizon. ok is false if no
// occurrence exists within the horizon.
func (s *Schedule) Next(from time.Time) (next time.Time, ok bool) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	deadline := from.Add(searchHorizon)

	for !t.After(deadline) {
		if s.matches(t) {
			return t, true
		}

		t = t.Add(time.Minute)
	}

	return time.Time{}, false
}

// matches reports whether t's minute/hour/month all satisfy their field
// sets and its day satisfies the day-of-month/day-of-week OR rule
// (architecture.md §4.5's day-matching rule).
func (s *Schedule) matches(t time.Time) bool {
	if !s.minutes[t.Minute()] || !s.hours[t.Hour()] || !s.months[int(t.Month())] {
		return false
	}

	return s.dayMatches(t)
}

func (s *Schedule) dayMatches(t time.Time) bool {
	switch {
	case s.domWildcard && s.dowWildcard:
		return true
	case !s.domWildcard && s.dowWildcard:
		return s.doms[t.Day()]
	case s.domWildcard && !s.dowWildcard:
		return s.dows[int(t.Weekday())]
	default:
		return s.doms[t.Day()] || s.dows[int(t.Weekday())]
	}
}

// String returns the original expression text.
func (s *Schedule) String() string { return s.raw }

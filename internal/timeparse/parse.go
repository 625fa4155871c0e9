package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"eckod/internal/storage"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Result is the timing extracted from one reminder text. All fields may be
// nil: the reminder is then a passive note. When Recurrence is set, Target
// never is (recurrence wins).
type Result struct {
	Target     *time.Time
	Recurrence *storage.Recurrence
	TimeOfDay  *TimeOfDay
}

// Timed reports whether anything schedulable was found.
func (r Result) Timed() bool { return r.Target != nil || r.Recurrence != nil }

// Parser extracts timing from natural language. Safe for concurrent use.
type Parser struct {
	loc *time.Location
	w   *when.Parser
}

// New builds a parser anchored to the engine's deployment timezone. All
// naive times are localized there before being compared or returned.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{loc: loc, w: w}
}

// Parse resolves the text against now. Recurrence is matched independently
// of absolute time and takes precedence: when a recurrence is found no
// target instant is computed.
func (p *Parser) Parse(text string, now time.Time) Result {
	now = now.In(p.loc)

	res := Result{
		Recurrence: parseRecurrence(text),
		TimeOfDay:  ExtractTimeOfDay(text),
	}
	if res.Recurrence != nil {
		return res
	}
	if t := p.parseDateTime(text, now); t != nil {
		res.Target = t
	}
	return res
}

var (
	reRelMinutes = regexp.MustCompile(`(?i)\b(?:en|dentro de|in|within)\s+(\d+)\s+(?:minutos?|minutes?|mins?|min)\b`)
	reRelOneMin  = regexp.MustCompile(`(?i)\b(?:en|dentro de|in|within)\s+(?:un|una|a|one)\s+(?:minuto|minute)\b`)
	reRelHours   = regexp.MustCompile(`(?i)\b(?:en|dentro de|in|within)\s+(\d+)\s+(?:horas?|hours?|hrs?)\b`)
	reRelOneHour = regexp.MustCompile(`(?i)\b(?:en|dentro de|in|within)\s+(?:una?|an|one)\s+(?:hora|hour)\b`)

	reBareHHMM = regexp.MustCompile(`\b(\d{4})\b`)
	reTomorrow = regexp.MustCompile(`(?i)\b(?:mañana|manana|tomorrow)\b\s*(?:a\s+las?\s+|at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	reClock    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reAmPm     = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)
)

// parseDateTime resolves an absolute one-shot instant. Match order matters:
// relative offsets first, then compact HHMM, then "tomorrow HH:MM" (checked
// before bare HH:MM so the explicit day is not lost), then bare clock times
// rolled to their next occurrence, then the general-purpose fallback.
func (p *Parser) parseDateTime(text string, now time.Time) *time.Time {
	lower := strings.ToLower(text)

	if m := reRelMinutes.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		t := now.Add(time.Duration(n) * time.Minute)
		return &t
	}
	if reRelOneMin.MatchString(lower) {
		t := now.Add(time.Minute)
		return &t
	}
	if m := reRelHours.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		t := now.Add(time.Duration(n) * time.Hour)
		return &t
	}
	if reRelOneHour.MatchString(lower) {
		t := now.Add(time.Hour)
		return &t
	}

	// Compact 24h form, e.g. "1445".
	if m := reBareHHMM.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1][:2])
		mi, _ := strconv.Atoi(m[1][2:])
		if h < 24 && mi < 60 {
			t := nextOccurrence(now, h, mi)
			return &t
		}
	}

	// "pasado mañana" would otherwise match the tomorrow rule one day early;
	// let the fallback handle it.
	if !strings.Contains(lower, "pasado mañana") && !strings.Contains(lower, "pasado manana") {
		if m := reTomorrow.FindStringSubmatch(lower); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi := 0
			if m[2] != "" {
				mi, _ = strconv.Atoi(m[2])
			}
			h = to24h(h, m[3])
			if h < 24 && mi < 60 {
				d := now.AddDate(0, 0, 1)
				t := time.Date(d.Year(), d.Month(), d.Day(), h, mi, 0, 0, p.loc)
				return &t
			}
		}
	}

	// "15:30", "hoy a las 15:30": next occurrence strictly after now.
	if m := reClock.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h < 24 && mi < 60 {
			t := nextOccurrence(now, h, mi)
			return &t
		}
	}

	// "a las 9am", "at 7pm".
	if m := reAmPm.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		h = to24h(h, m[2])
		if h < 24 {
			t := nextOccurrence(now, h, 0)
			return &t
		}
	}

	return p.fallback(lower, now)
}

// Common Spanish phrasings translated so the English rule set can pick them up.
var fallbackReplacements = []struct{ from, to string }{
	{"pasado mañana", "in 2 days"},
	{"pasado manana", "in 2 days"},
	{"mañana", "tomorrow"},
	{"manana", "tomorrow"},
	{"hoy", "today"},
	{"en media hora", "in 30 minutes"},
	{"ahora", "now"},
}

func (p *Parser) fallback(lower string, now time.Time) *time.Time {
	for _, r := range fallbackReplacements {
		lower = strings.ReplaceAll(lower, r.from, r.to)
	}
	res, err := p.w.Parse(lower, now)
	if err != nil || res == nil {
		return nil
	}
	t := res.Time.In(p.loc)
	// Prefer future-dated interpretations: an ambiguous time of day that
	// already passed today means the next day.
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
		if !t.After(now) {
			return nil
		}
	}
	return &t
}

// nextOccurrence returns the next instant with the given wall-clock time
// strictly after now, rolling to the following day when already past.
func nextOccurrence(now time.Time, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		d := now.AddDate(0, 0, 1)
		t = time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, now.Location())
	}
	return t
}

func to24h(hour int, ampm string) int {
	switch strings.ToLower(ampm) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

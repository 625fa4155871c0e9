package timeparse

import (
	"regexp"
	"strconv"
	"strings"

	"eckod/internal/storage"
)

// Weekday names with Monday=0 .. Sunday=6 (the convention the recurrence
// rule stores and the scheduler translates for cron).
var weekdayNames = map[string]int{
	"lunes": 0, "martes": 1, "miércoles": 2, "miercoles": 2,
	"jueves": 3, "viernes": 4, "sábado": 5, "sabado": 5, "domingo": 6,
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
	"friday": 4, "saturday": 5, "sunday": 6,
}

var dailyPhrases = []string{"cada día", "cada dia", "todos los días", "todos los dias", "diario", "every day", "daily"}
var weeklyPhrases = []string{"cada semana", "semanal", "every week", "weekly"}
var monthlyPhrases = []string{"cada mes", "mensual", "every month", "monthly"}

// parseRecurrence matches repeating-schedule keywords. Returns nil when the
// text carries no recurrence.
func parseRecurrence(text string) *storage.Recurrence {
	lower := strings.ToLower(text)

	for _, p := range dailyPhrases {
		if strings.Contains(lower, p) {
			return &storage.Recurrence{Type: storage.RecurDaily}
		}
	}
	for _, p := range weeklyPhrases {
		if strings.Contains(lower, p) {
			return &storage.Recurrence{Type: storage.RecurWeekly}
		}
	}
	for _, p := range monthlyPhrases {
		if strings.Contains(lower, p) {
			return &storage.Recurrence{Type: storage.RecurMonthly}
		}
	}

	for name, dow := range weekdayNames {
		if strings.Contains(lower, "cada "+name) ||
			strings.Contains(lower, "todos los "+name) ||
			strings.Contains(lower, "every "+name) {
			return &storage.Recurrence{Type: storage.RecurWeekly, DayOfWeek: dow}
		}
	}
	return nil
}

var (
	reTodClock = regexp.MustCompile(`\b(\d{1,2})\s*:\s*(\d{2})\b`)
	reTodAmPm  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)
)

// ExtractTimeOfDay finds a wall-clock time anywhere in the text:
// "14:30" -> 14:30, "9am" -> 09:00, "7pm" -> 19:00. Nil when absent.
func ExtractTimeOfDay(text string) *TimeOfDay {
	if m := reTodClock.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h < 24 && mi < 60 {
			return &TimeOfDay{Hour: h, Minute: mi}
		}
	}
	if m := reTodAmPm.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		h = to24h(h, m[2])
		if h < 24 {
			return &TimeOfDay{Hour: h}
		}
	}
	return nil
}

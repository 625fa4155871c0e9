package timeparse

import (
	"regexp"
	"strings"
)

var reQueDiga = regexp.MustCompile(`(?i)\bque\s+(?:diga\s+)?(.+)`)

var reCommandPrefix = regexp.MustCompile(`(?i)^(?:por favor\s+)?(?:recu[eé]rdame|recordarme|remind me)\s+(?:to\s+|que\s+|de\s+)?`)

// Timing phrases and scaffolding stripped from the payload. Order matters:
// anchored prefixes first, then inline phrases.
var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:ahora\s+)?(?:a\s+las?\s+)?\d{1,2}(?::\d{2})?\s+(?:minutos?\s+)?`),
	regexp.MustCompile(`(?i)^(?:hoy|mañana|manana|today|tomorrow)\s+(?:a\s+las?\s+|at\s+)?\d{1,2}(?::\d{2})?\s*(?:am|pm)?\s*`),
	regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s+`),
	regexp.MustCompile(`(?i)\b(?:hoy|mañana|manana|today|tomorrow)\s+(?:a\s+las?\s+|at\s+)?`),
	regexp.MustCompile(`(?i)\ba\s+las?\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\s*`),
	regexp.MustCompile(`(?i)\bat\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?\s*`),
	regexp.MustCompile(`(?i)\b(?:en|dentro de|in|within)\s+\d+\s+(?:horas?|hours?|minutos?|minutes?|mins?)\s*`),
	regexp.MustCompile(`(?i)\b(?:en|in)\s+(?:un|una|a|one|an)\s+(?:minuto|minute|hora|hour)\s*`),
	regexp.MustCompile(`(?i)\b(?:cada|todos los|every)\s+(?:día|dia|semana|mes|day|week|month|lunes|martes|miércoles|miercoles|jueves|viernes|sábado|sabado|domingo|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s*`),
	regexp.MustCompile(`(?i)\b(?:diario|semanal|mensual|daily|weekly|monthly)\b\s*`),
	regexp.MustCompile(`(?i)\bde\s+hoy\s+`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:am|pm)\b\s*`),
}

var verbPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:tengo|tiene|debo|debes|necesito|necesita|quiero|quiere)\s+(?:que\s+)?(.+)`),
	regexp.MustCompile(`(?i)((?:estudiar|tomar|hacer|llamar|ir|volar|comprar|pagar|call|buy|study|take|pay)\s+.+)`),
}

var reBareClock = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
var reBareALas = regexp.MustCompile(`(?i)\ba\s+las?\s+\d+\b`)
var reSpaces = regexp.MustCompile(`\s+`)

// ExtractMessage strips the timing phrase and command scaffolding from the
// raw text to produce the payload spoken when the reminder fires. It is
// best-effort and never fails: when stripping leaves nothing usable it
// falls back to a verb-anchored heuristic, and as a last resort returns the
// original text.
func ExtractMessage(raw string) string {
	msg := strings.TrimSpace(raw)

	// "… que diga X" / "… que X": the part after "que" is the payload.
	// Checked before the command prefix strip, which would eat the "que".
	if m := reQueDiga.FindStringSubmatch(msg); m != nil {
		msg = strings.TrimSpace(m[1])
	} else {
		msg = reCommandPrefix.ReplaceAllString(msg, "")
	}

	for _, re := range timePatterns {
		msg = re.ReplaceAllString(msg, "")
	}
	msg = strings.TrimSpace(msg)
	if strings.HasPrefix(strings.ToLower(msg), "que ") {
		msg = strings.TrimSpace(msg[4:])
	}

	if len(msg) >= 3 {
		return collapseSpaces(msg)
	}

	// Too little survived. Anchor on the main verb instead.
	for _, re := range verbPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			if v := strings.TrimSpace(m[1]); len(v) >= 3 {
				return collapseSpaces(v)
			}
		}
	}

	// Minimal cleanup of the original, then give up and keep it verbatim.
	min := reBareClock.ReplaceAllString(raw, "")
	min = reBareALas.ReplaceAllString(min, "")
	min = collapseSpaces(min)
	if min != "" {
		return min
	}
	return strings.TrimSpace(raw)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

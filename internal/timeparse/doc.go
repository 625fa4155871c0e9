// Package timeparse turns free-form reminder text into timing: an absolute
// target instant, a recurrence rule, and/or a bare time of day.
//
// Parsing is a pure function of the text and the injected "now"; it never
// fails. Text with no recognizable timing yields an empty Result and the
// reminder is stored as a passive note.
//
// Spanish and English phrasings are both understood, matching the assistant's
// user base ("en 2 minutos", "mañana a las 9am", "cada lunes", "every day").
package timeparse

package timeparse

import "testing"

func TestExtractMessage(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want string
	}{
		{"remind me to call mom in 10 minutes", "call mom"},
		{"Recuérdame tomar la pastilla en 20 minutos", "tomar la pastilla"},
		{"Recuérdame que diga feliz cumpleaños", "feliz cumpleaños"},
		{"Recuérdame pagar el alquiler cada mes", "pagar el alquiler"},
		{"tengo que estudiar para el examen", "estudiar para el examen"},
	}
	for _, c := range cases {
		if got := ExtractMessage(c.raw); got != c.want {
			t.Fatalf("ExtractMessage(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestExtractMessageNeverEmpty(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"15:30", "a las 9", "x", "recuérdame"} {
		if got := ExtractMessage(raw); got == "" {
			t.Fatalf("ExtractMessage(%q) returned empty string", raw)
		}
	}
}

func TestExtractTimeOfDay(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text string
		want string
	}{
		{"cada día a las 14:30", "14:30"},
		{"every monday 9am", "09:00"},
		{"todos los viernes 7pm", "19:00"},
		{"12pm almuerzo", "12:00"},
		{"12am medianoche", "00:00"},
	}
	for _, c := range cases {
		tod := ExtractTimeOfDay(c.text)
		if tod == nil {
			t.Fatalf("ExtractTimeOfDay(%q) = nil, want %s", c.text, c.want)
		}
		if tod.String() != c.want {
			t.Fatalf("ExtractTimeOfDay(%q) = %s, want %s", c.text, tod, c.want)
		}
	}

	if tod := ExtractTimeOfDay("sin hora alguna"); tod != nil {
		t.Fatalf("expected nil, got %+v", tod)
	}
}

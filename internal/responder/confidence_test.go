package responder

import "testing"

func TestScore(t *testing.T) {
	cases := []struct {
		name   string
		finish string
		text   string
		want   float64
	}{
		{"clean confident reply", "stop", "Our team typically sets up CI/CD pipelines within two weeks.", 0.9},
		{"truncated", "length", "Our team typically sets up CI/CD pipelines within two weeks.", 0.6},
		{"short reply", "stop", "Yes.", 0.7},
		{"one hedge", "stop", "I'm not sure, but the setup usually takes about two weeks.", 0.75},
		{"hedge penalty capped", "stop", "I'm not sure, it might be two weeks, but it depends on scope honestly.", 0.6},
		{"everything wrong", "length", "Might be?", 0.25},
		{"empty finish reason treated as clean", "", "A sufficiently long and direct answer to the question.", 0.9},
	}

	for _, tc := range cases {
		got := Score(tc.finish, tc.text)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: Score(%q, ...) = %v, want %v", tc.name, tc.finish, got, tc.want)
		}
	}
}

func TestScore_Clamped(t *testing.T) {
	// Truncation + short + max hedges exceeds the base; must clamp at 0.
	got := Score("length", "not sure, might be, it depends")
	if got < 0 || got > 1 {
		t.Errorf("Score out of range: %v", got)
	}
}

func TestScore_Pure(t *testing.T) {
	a := Score("stop", "I'm not sure about that.")
	for i := 0; i < 5; i++ {
		if b := Score("stop", "I'm not sure about that."); b != a {
			t.Fatalf("Score not deterministic: %v vs %v", a, b)
		}
	}
}

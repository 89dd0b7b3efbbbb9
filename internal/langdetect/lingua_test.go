package langdetect

import "testing"

func TestResolveDetectsEnglish(t *testing.T) {
	t.Parallel()

	text := "The central bank raised interest rates again on Thursday, citing persistent inflation and a tight labour market."
	if got := Resolve(text, ""); got != "en" {
		t.Fatalf("Resolve() = %q, want en", got)
	}
}

func TestResolveFallsBackToHint(t *testing.T) {
	t.Parallel()

	if got := Resolve("ok", "de-AT"); got != "de" {
		t.Fatalf("Resolve() = %q, want de", got)
	}
	if got := Resolve("", ""); got != Undetermined {
		t.Fatalf("Resolve() = %q, want %q", got, Undetermined)
	}
	if got := Resolve("", "1234"); got != Undetermined {
		t.Fatalf("Resolve() = %q, want %q for invalid hint", got, Undetermined)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"en-US": "en",
		" PT_br": "pt",
		"fr":    "fr",
		"":      "",
		"e1":    "",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}

package triage

import (
	"strings"
	"testing"
)

func TestAssessLevels(t *testing.T) {
	cases := []struct {
		text string
		want Level
	}{
		{"hello there", Routine},
		{"", Routine},
		{"I have a mild headache", Monitor},
		{"我有点咳嗽", Monitor},
		{"headache for days and getting worse", Urgent},
		{"High fever since last night", Urgent},
		{"sudden chest pain and a headache", Emergency},
		{"突然胸痛，喘不上气", Emergency},
	}

	for _, tc := range cases {
		got := Assess(tc.text)
		if got.Level != tc.want {
			t.Fatalf("Assess(%q) level = %s, want %s", tc.text, got.Level, tc.want)
		}
	}
}

func TestGuidanceMentionsMatches(t *testing.T) {
	a := Assess("I think I am having a stroke")
	if a.Level != Emergency {
		t.Fatalf("expected emergency, got %s", a.Level)
	}
	if g := a.Guidance(); g == "" || !strings.Contains(g, "stroke") {
		t.Fatalf("unexpected guidance %q", g)
	}
	if Assess("thanks!").Guidance() != "" {
		t.Fatal("expected no guidance for routine text")
	}
}

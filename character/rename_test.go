package character

import (
	"regexp"
	"testing"
)

func TestReplaceName(t *testing.T) {
	tests := []struct {
		name string
		text string
		old  string
		new  string
		want string
	}{
		{"simple", "Aria walks.", "Aria", "Luna", "Luna walks."},
		{"case insensitive", "ARIA and aria", "Aria", "Luna", "Luna and Luna"},
		{"word boundary", "Ariadne met Aria", "Aria", "Luna", "Ariadne met Luna"},
		{"adjacent", "Aria,Aria", "Aria", "Luna", "Luna,Luna"},
		{"possessive", "Aria's blade", "Aria", "Luna", "Luna's blade"},
		{"pattern chars", "Dr. X (the Third) waits", "Dr. X (the Third)", "Vex", "Vex waits"},
		{"empty old", "Aria", "", "Luna", "Aria"},
		{"unicode neighbours", "éAria Aria", "Aria", "Luna", "éAria Luna"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceName(tt.text, tt.old, tt.new); got != tt.want {
				t.Errorf("ReplaceName(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestCharacterRename(t *testing.T) {
	c := &Character{
		Name:      "Aria",
		Backstory: "Aria was born in the Ariadne nebula. aria never forgot.",
		Quests: []Quest{
			{Title: "Aria's Oath", Description: "Help ARIA recover her sword."},
			{Title: "Night Watch", Description: "Stand guard."},
		},
	}
	old := c.Rename("Luna")
	if old != "Aria" || c.Name != "Luna" {
		t.Fatalf("unexpected names: old=%q new=%q", old, c.Name)
	}

	whole := regexp.MustCompile(`(?i)\baria\b`)
	for _, s := range []string{c.Backstory, c.Quests[0].Title, c.Quests[0].Description} {
		if whole.MatchString(s) {
			t.Errorf("old name still present in %q", s)
		}
	}
	if want := "Luna was born in the Ariadne nebula. Luna never forgot."; c.Backstory != want {
		t.Errorf("backstory = %q, want %q", c.Backstory, want)
	}

	// 2回目の同名変更は何も変えない
	before := c.Backstory
	c.Rename("Luna")
	if c.Backstory != before {
		t.Errorf("rename is not idempotent: %q -> %q", before, c.Backstory)
	}
}

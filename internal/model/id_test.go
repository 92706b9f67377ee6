package model

import "testing"

func TestGenerateEpisodeID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateEpisodeID()
		if err != nil {
			t.Fatalf("GenerateEpisodeID returned error: %v", err)
		}
		if !ValidateEpisodeID(id) {
			t.Errorf("generated id %q does not match canonical shape", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidateEpisodeID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"six hex", "a1b2c3d", true},
		{"seven hex", "a1b2c3d4", true},
		{"five hex", "a1b2c3", false},
		{"eight hex", "a1b2c3d4e", false},
		{"wrong prefix", "x1b2c3d", false},
		{"uppercase hex", "a1B2C3D", false},
		{"non hex", "azzzzzz", false},
		{"empty", "", false},
		{"prose", "not-a-valid-shape", false},
		{"prefix only", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateEpisodeID(tt.id); got != tt.valid {
				t.Errorf("ValidateEpisodeID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

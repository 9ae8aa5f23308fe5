package similarity

import (
	"math"
	"testing"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"", "xyz", 3},
		{"kitten", "sitting", 3},
		{"super-pharm", "superpharm", 1},
		{"superpharm", "superpharn", 1},
		{"שופרסל", "שופרסל דיל", 4},
	}

	for _, tt := range tests {
		if got := EditDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Super-Pharm", "Super-Pharm", 1.0},
		{"case insensitive", "SuperPharm", "superpharm", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "store", "", 0.0},
		{"one char off", "superpharm", "superpharn", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScore_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Super-Pharm", "SuperPharm"},
		{"McDonald's", "Super-Pharm"},
		{"", "store"},
		{"aroma", "aroma tlv"},
	}

	for _, p := range pairs {
		ab := Score(p[0], p[1])
		ba := Score(p[1], p[0])
		if ab != ba {
			t.Errorf("Score(%q, %q)=%v but Score(%q, %q)=%v", p[0], p[1], ab, p[1], p[0], ba)
		}
	}
}

func TestScore_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"a", "completely different"},
		{"abcdefgh", "12345678"},
		{"x", "y"},
	}

	for _, p := range pairs {
		got := Score(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("Score(%q, %q) = %v out of [0,1]", p[0], p[1], got)
		}
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"SuperPharm", "McDonald's", "super pharm", "Aroma"}

	matches := FindSimilar("Super-Pharm", candidates, DefaultThreshold)

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
	for _, m := range matches {
		if m.Score < DefaultThreshold {
			t.Errorf("match %q below threshold: %v", m.Candidate, m.Score)
		}
		if m.Candidate == "McDonald's" {
			t.Error("McDonald's should never match Super-Pharm")
		}
	}
	// Sorted descending.
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not sorted descending: %v", matches)
	}
}

func TestFindSimilar_NoMatches(t *testing.T) {
	matches := FindSimilar("Super-Pharm", []string{"McDonald's", "Ikea"}, DefaultThreshold)
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %v", matches)
	}
}

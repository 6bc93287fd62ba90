package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Müller, Hans":        "mueller hans",
		"MUELLER HANS":        "mueller hans",
		"Renée Dupont-Ávila":  "renee dupont avila",
		"  Straße 12 / WE3 ":  "strasse 12 we3",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		payer  string
		tenant string
		drift  float64
		want   float64
	}{
		{"equal after folding", "HANS MUELLER", "Hans Müller", 0, 1},
		{"reversed tokens", "Mueller Hans", "Hans Müller", 0, 1},
		{"tenant contained", "Hans Mueller und Anna Mueller", "Hans Müller", 0, 1},
		{"payer contained", "Mueller", "Familie Mueller", 0, 1},
		{"half the tokens", "Hans Meier", "Hans Müller", 0, 0.4},
		{"nothing in common", "Petra Schmidt", "Hans Müller", 0, 0},
		{"empty payer", "", "Hans Müller", 0, 0},
		{"typo without drift", "Hans Muller", "Hans Müller", 0, 0.4},
		{"typo within drift", "Hans Muler", "Hans Müller", 30, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NameSimilarity(tt.payer, tt.tenant, tt.drift), 0.001)
		})
	}
}

package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExactMatch(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, 1.0, s.ExactMatch("ABC", "abc", false))
	assert.Equal(t, 0.0, s.ExactMatch("ABC", "abc", true))
	assert.Equal(t, 1.0, s.ExactMatch("abc", "abc", true))
}

func TestJaroWinkler(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{name: "identical", a: "martha", b: "martha", min: 1.0, max: 1.0},
		{name: "transposed chars", a: "martha", b: "marhta", min: 0.95, max: 1.0},
		{name: "similar names", a: "dwayne", b: "duane", min: 0.8, max: 0.95},
		{name: "unrelated", a: "abc", b: "xyz", min: 0.0, max: 0.0},
		{name: "empty", a: "", b: "abc", min: 0.0, max: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := s.JaroWinkler(tt.a, tt.b)
			assert.GreaterOrEqual(t, score, tt.min)
			assert.LessOrEqual(t, score, tt.max)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0, s.LevenshteinDistance("same", "same"))
	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 5, s.LevenshteinDistance("", "abcde"))
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
	assert.InDelta(t, 1.0-3.0/7.0, s.Levenshtein("kitten", "sitting"), 0.0001)
}

func TestSoundex(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, "R163", s.Soundex("Robert"))
	assert.Equal(t, "R163", s.Soundex("Rupert"))
	assert.Equal(t, 1.0, s.SoundexMatch("Robert", "Rupert"))
	assert.Equal(t, 0.0, s.SoundexMatch("Robert", "Ashcraft"))
	assert.Equal(t, "", s.Soundex(""))
}

func TestDateProximity(t *testing.T) {
	s := NewScorer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, s.DateProximity(base, base, 30))
	assert.Equal(t, 0.0, s.DateProximity(base, base.AddDate(0, 0, 30), 30))
	assert.InDelta(t, 0.5, s.DateProximity(base, base.AddDate(0, 0, 15), 30), 0.0001)
	assert.Equal(t, 0.0, s.DateProximity(time.Time{}, base, 30))
}

func TestWeightedScore(t *testing.T) {
	s := NewScorer()

	t.Run("applies weights", func(t *testing.T) {
		score := s.WeightedScore(
			map[string]float64{"a": 1.0, "b": 0.0},
			map[string]float64{"a": 3.0, "b": 1.0},
		)
		assert.InDelta(t, 0.75, score, 0.0001)
	})

	t.Run("missing weight defaults to one", func(t *testing.T) {
		score := s.WeightedScore(
			map[string]float64{"a": 1.0, "b": 0.0},
			map[string]float64{},
		)
		assert.InDelta(t, 0.5, score, 0.0001)
	})

	t.Run("empty scores yield zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.WeightedScore(nil, nil))
	})
}

package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"force", "force", 0},
		{"forse", "force", 1},
		{"direction", "dirction", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestFlag(t *testing.T) {
	valid := []string{"--device", "--direction", "--force", "--limit", "--type"}

	tests := []struct {
		unknown string
		want    []string
	}{
		{"--devise", []string{"--device"}},
		{"--frce", []string{"--force"}},
		{"--limt", []string{"--limit"}},
		{"--zzzzzzzzzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.unknown, func(t *testing.T) {
			assert.Equal(t, tt.want, Flag(tt.unknown, valid))
		})
	}
}

func TestGetFlagHint(t *testing.T) {
	assert.Equal(t, "--days", GetFlagHint("--Retention"))
	assert.Empty(t, GetFlagHint("--nothing"))
}

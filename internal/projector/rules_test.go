package projector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	data := []byte(`
rules:
  - entity_type: intervention
    query: SELECT id FROM interventions WHERE technician_id = :technician_id
  - entity_type: customer
    geo: true
    query: SELECT id, latitude, longitude, 0 FROM customers
`)
	rules, err := ParseRules(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "intervention", rules[0].EntityType)
	assert.True(t, rules[1].Geo)
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name  string
		rules []Rule
	}{
		{"empty", nil},
		{"missing type", []Rule{{Query: "SELECT 1"}}},
		{"duplicate", []Rule{{EntityType: "a", Query: "SELECT 1"}, {EntityType: "a", Query: "SELECT 2"}}},
		{"not select", []Rule{{EntityType: "a", Query: "DELETE FROM x"}}},
		{"unknown param", []Rule{{EntityType: "a", Query: "SELECT id FROM x WHERE y = :secret"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateRules(tc.rules))
		})
	}
	assert.NoError(t, ValidateRules(DefaultRules()))
}

func TestLoadRulesRoundTripsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data, err := MarshalRules(DefaultRules())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestQueryParams(t *testing.T) {
	got := queryParams("SELECT id FROM x WHERE a = :territory OR b = :lat_min OR c = :territory")
	assert.Equal(t, []string{"territory", "lat_min"}, got)
}

package projector

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is the relevance query of one entity type.
//
// A plain rule selects a single id column. A geo rule selects
// (id, latitude, longitude, anchored): rows with a non-zero anchored column
// are always kept, the rest only when they lie within the scope radius.
type Rule struct {
	EntityType string `yaml:"entity_type"`
	Query      string `yaml:"query"`
	Geo        bool   `yaml:"geo,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Parameter names a rule query may reference as :name.
var knownParams = []string{
	"device_id", "technician_id", "territory",
	"window_start", "window_end",
	"has_location", "lat", "lon", "radius_km",
	"lat_min", "lat_max", "lon_min", "lon_max",
}

var paramPattern = regexp.MustCompile(`[:@$]([a-z_]+)`)

// queryParams returns the distinct parameter names referenced by query.
func queryParams(query string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range paramPattern.FindAllStringSubmatch(query, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML rules. File order is registration order.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := ValidateRules(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// MarshalRules encodes rules in the rules file format.
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: rules})
}

// ValidateRules checks that every rule has a unique entity type and a
// read-only query using known parameters only.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rules: no entity types defined")
	}
	seen := map[string]bool{}
	for i, r := range rules {
		if strings.TrimSpace(r.EntityType) == "" {
			return fmt.Errorf("rules[%d]: entity_type is required", i)
		}
		if seen[r.EntityType] {
			return fmt.Errorf("rules[%d]: duplicate entity_type %q", i, r.EntityType)
		}
		seen[r.EntityType] = true

		q := strings.ToUpper(strings.TrimSpace(r.Query))
		if !strings.HasPrefix(q, "SELECT") && !strings.HasPrefix(q, "WITH") {
			return fmt.Errorf("rules[%d] (%s): query must be a SELECT", i, r.EntityType)
		}
		for _, p := range queryParams(r.Query) {
			if !isKnownParam(p) {
				return fmt.Errorf("rules[%d] (%s): unknown parameter :%s", i, r.EntityType, p)
			}
		}
	}
	return nil
}

func isKnownParam(name string) bool {
	for _, p := range knownParams {
		if p == name {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in relevance rules for the field-service
// schema in SourceSchema. An empty territory or technician on the device
// never matches, so unassigned rows are not handed out by accident.
func DefaultRules() []Rule {
	return []Rule{
		{
			EntityType: Intervention,
			Query: `SELECT id FROM interventions
WHERE :technician_id <> '' AND technician_id = :technician_id
  AND scheduled_at >= :window_start AND scheduled_at <= :window_end`,
		},
		{
			EntityType: Customer,
			Geo:        true,
			Query: `SELECT id, latitude, longitude,
       CASE WHEN :territory <> '' AND territory = :territory THEN 1 ELSE 0 END
FROM customers
WHERE (:territory <> '' AND territory = :territory)
   OR (:has_location = 1 AND latitude BETWEEN :lat_min AND :lat_max
       AND longitude BETWEEN :lon_min AND :lon_max)`,
		},
		{
			EntityType: Project,
			Query: `SELECT p.id FROM projects p
JOIN customers c ON c.id = p.customer_id
WHERE p.status <> 'closed'
  AND ((:territory <> '' AND c.territory = :territory)
       OR (:technician_id <> '' AND p.technician_id = :technician_id))`,
		},
		{
			EntityType: SalesDocument,
			Query: `SELECT s.id FROM sales_documents s
JOIN customers c ON c.id = s.customer_id
WHERE :territory <> '' AND c.territory = :territory
  AND s.document_date >= :window_start AND s.document_date <= :window_end`,
		},
	}
}

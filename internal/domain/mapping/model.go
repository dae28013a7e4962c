// Package mapping implements the declarative field-mapping engine:
// rule-driven copies and transforms between internal and external document
// schemas. Transforms are a closed enum; there is deliberately no way to
// attach executable code to a rule.
package mapping

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no mapping matches the lookup.
var ErrNotFound = errors.New("mapping: not found")

// Mapping types.
const (
	TypeFHIRResource = "fhir-resource"
	TypeHL7Segment   = "hl7-segment"
	TypeCustomAPI    = "custom-api"
	TypeTable        = "table"
)

// Transform kinds. Unknown kinds pass values through unchanged.
const (
	TransformIdentity   = "identity"
	TransformUppercase  = "uppercase"
	TransformLowercase  = "lowercase"
	TransformDateFormat = "date-format"
)

var validTypes = map[string]bool{
	TypeFHIRResource: true, TypeHL7Segment: true, TypeCustomAPI: true, TypeTable: true,
}

// Mapping maps to the data_mapping table. Rules is keyed by source field
// name; each value is either a bare target field name (string) or an object
// with target_field, transform, and an optional pattern for date-format.
type Mapping struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	Name         string                 `db:"name" json:"name"`
	MappingType  string                 `db:"mapping_type" json:"mapping_type"`
	SourceSystem *uuid.UUID             `db:"source_system" json:"source_system,omitempty"`
	TargetSystem *uuid.UUID             `db:"target_system" json:"target_system,omitempty"`
	SourceFormat string                 `db:"source_format" json:"source_format"`
	TargetFormat string                 `db:"target_format" json:"target_format"`
	Rules        map[string]interface{} `db:"mapping_rules" json:"mapping_rules"`
	IsActive     bool                   `db:"is_active" json:"is_active"`
	LastTested   *time.Time             `db:"last_tested" json:"last_tested,omitempty"`
	TestResults  map[string]interface{} `db:"test_results" json:"test_results,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`
}

// rule is the normalized form of one mapping rule value.
type rule struct {
	TargetField string
	Transform   string
	Pattern     string
}

// normalizeRule interprets a raw rule value. A bare string is a plain copy to
// that target field. An object carries the target field plus a transform.
// Anything else is ignored (nil, false).
func normalizeRule(raw interface{}) (rule, bool) {
	switch v := raw.(type) {
	case string:
		return rule{TargetField: v, Transform: TransformIdentity}, true
	case map[string]interface{}:
		r := rule{Transform: TransformIdentity}
		if tf, ok := v["target_field"].(string); ok {
			r.TargetField = tf
		} else if tf, ok := v["targetField"].(string); ok {
			r.TargetField = tf
		}
		if tr, ok := v["transform"].(string); ok && tr != "" {
			r.Transform = tr
		}
		if p, ok := v["pattern"].(string); ok {
			r.Pattern = p
		}
		if r.TargetField == "" {
			return rule{}, false
		}
		return r, true
	default:
		return rule{}, false
	}
}

// Package resource implements the locally persisted FHIR resource store.
// Rows are written only as a side effect of successful FHIR exchange
// operations.
package resource

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no stored resource matches the lookup.
var ErrNotFound = errors.New("resource: not found")

// FHIRResource maps to the fhir_resource table. ResourceID is stable across
// versions; (ResourceID, VersionID) is unique.
type FHIRResource struct {
	ResourceID       uuid.UUID              `db:"resource_id" json:"resource_id"`
	VersionID        string                 `db:"version_id" json:"version_id"`
	ResourceType     string                 `db:"resource_type" json:"resource_type"`
	Data             map[string]interface{} `db:"resource_data" json:"resource_data"`
	SourceSystem     *uuid.UUID             `db:"source_system" json:"source_system,omitempty"`
	RelatedPatient   *string                `db:"related_patient" json:"related_patient,omitempty"`
	IsValid          bool                   `db:"is_valid" json:"is_valid"`
	ValidationErrors []string               `db:"validation_errors" json:"validation_errors,omitempty"`
	LastUpdated      time.Time              `db:"last_updated" json:"last_updated"`
}

// Validate checks the minimal structural requirements of a FHIR document.
// An invalid resource is still stored; it is flagged, not rejected.
func Validate(doc map[string]interface{}) []string {
	var errs []string
	if doc == nil {
		return []string{"resource document is empty"}
	}
	if rt, _ := doc["resourceType"].(string); rt == "" {
		errs = append(errs, "resourceType is required")
	}
	if id, _ := doc["id"].(string); id == "" {
		errs = append(errs, "id is required")
	}
	return errs
}

// RelatedPatientRef extracts the patient reference from common FHIR shapes:
// a Patient resource's own id, or a subject/patient reference of the form
// "Patient/<id>".
func RelatedPatientRef(doc map[string]interface{}) string {
	if doc == nil {
		return ""
	}
	if rt, _ := doc["resourceType"].(string); rt == "Patient" {
		if id, _ := doc["id"].(string); id != "" {
			return id
		}
	}
	for _, key := range []string{"subject", "patient"} {
		ref, ok := doc[key].(map[string]interface{})
		if !ok {
			continue
		}
		r, _ := ref["reference"].(string)
		const prefix = "Patient/"
		if len(r) > len(prefix) && r[:len(prefix)] == prefix {
			return r[len(prefix):]
		}
	}
	return ""
}

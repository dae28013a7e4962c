package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Composition of outbound messages. Each Compose* function renders a complete
// pipe-delimited message from FHIR resource documents, with deterministic
// segment ordering so the output is parseable by Parse and stable for a given
// input and clock.

// ComposeADT renders an ADT (Admit/Discharge/Transfer) message.
// trigger is the event code: A01 admit, A02 transfer, A03 discharge,
// A04 register, A08 update.
func ComposeADT(trigger string, patient, encounter map[string]interface{}) ([]byte, error) {
	if patient == nil {
		return nil, fmt.Errorf("hl7v2: patient resource is required")
	}

	segments := []string{
		composeMSH("ADT", trigger),
		composeEVN(trigger),
		composePID(patient),
		composePV1(encounter),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

// ComposeORM renders an ORM^O01 (order) message from a FHIR ServiceRequest.
func ComposeORM(serviceRequest, patient map[string]interface{}) ([]byte, error) {
	if patient == nil {
		return nil, fmt.Errorf("hl7v2: patient resource is required")
	}

	segments := []string{
		composeMSH("ORM", "O01"),
		composePID(patient),
		composeORC(serviceRequest),
		composeOBR(codingOf(serviceRequest), orderTimestamp(serviceRequest)),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

// ComposeORU renders an ORU^R01 (observation result) message from a FHIR
// DiagnosticReport and its Observations.
func ComposeORU(report map[string]interface{}, observations []map[string]interface{}, patient map[string]interface{}) ([]byte, error) {
	if patient == nil {
		return nil, fmt.Errorf("hl7v2: patient resource is required")
	}

	ts := ""
	if report != nil {
		if dt, ok := getString(report, "effectiveDateTime"); ok {
			ts = fhirDateTimeToHL7(dt)
		}
	}

	segments := []string{
		composeMSH("ORU", "R01"),
		composePID(patient),
		composeOBR(codingOf(report), ts),
	}
	for i, obs := range observations {
		segments = append(segments, composeOBX(i+1, obs))
	}
	return []byte(strings.Join(segments, "\r")), nil
}

// ComposeSIU renders an SIU^S12 (new appointment) message from a FHIR
// Appointment resource.
func ComposeSIU(appointment, patient map[string]interface{}) ([]byte, error) {
	if patient == nil {
		return nil, fmt.Errorf("hl7v2: patient resource is required")
	}

	segments := []string{
		composeMSH("SIU", "S12"),
		composeSCH(appointment),
		composePID(patient),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

func composeMSH(msgType, trigger string) string {
	now := time.Now().UTC()
	controlID := fmt.Sprintf("MSG%s", now.Format("20060102150405.000"))
	return fmt.Sprintf("MSH|^~\\&|INTEROP|InteropFac|Destination|DestFac|%s||%s^%s|%s|P|2.5.1",
		now.Format("20060102150405"), msgType, trigger, controlID)
}

func composeEVN(trigger string) string {
	return fmt.Sprintf("EVN|%s|%s", trigger, time.Now().UTC().Format("20060102150405"))
}

func composePID(patient map[string]interface{}) string {
	if patient == nil {
		return "PID|1"
	}

	patientID := ""
	if ids, ok := getArray(patient, "identifier"); ok && len(ids) > 0 {
		if id, ok := ids[0].(map[string]interface{}); ok {
			if val, ok := getString(id, "value"); ok {
				patientID = Escape(val)
			}
		}
	}

	patientName := ""
	if names, ok := getArray(patient, "name"); ok && len(names) > 0 {
		if name, ok := names[0].(map[string]interface{}); ok {
			family, given := "", ""
			if f, ok := getString(name, "family"); ok {
				family = Escape(f)
			}
			if givens, ok := getArray(name, "given"); ok && len(givens) > 0 {
				if g, ok := givens[0].(string); ok {
					given = Escape(g)
				}
			}
			patientName = family + "^" + given
		}
	}

	dob := ""
	if birthDate, ok := getString(patient, "birthDate"); ok {
		dob = strings.ReplaceAll(birthDate, "-", "")
	}

	gender := ""
	if g, ok := getString(patient, "gender"); ok {
		gender = genderCode(g)
	}

	address := ""
	if addrs, ok := getArray(patient, "address"); ok && len(addrs) > 0 {
		if addr, ok := addrs[0].(map[string]interface{}); ok {
			address = composeAddress(addr)
		}
	}

	phone := ""
	if telecoms, ok := getArray(patient, "telecom"); ok && len(telecoms) > 0 {
		if t, ok := telecoms[0].(map[string]interface{}); ok {
			if val, ok := getString(t, "value"); ok {
				phone = Escape(val)
			}
		}
	}

	return fmt.Sprintf("PID|1||%s||%s||%s|%s|||%s||%s",
		patientID, patientName, dob, gender, address, phone)
}

func composePV1(encounter map[string]interface{}) string {
	if encounter == nil {
		return "PV1|1"
	}

	patientClass := ""
	if classObj, ok := getMap(encounter, "class"); ok {
		if code, ok := getString(classObj, "code"); ok {
			patientClass = patientClassCode(code)
		}
	}

	location := ""
	if locs, ok := getArray(encounter, "location"); ok && len(locs) > 0 {
		if loc, ok := locs[0].(map[string]interface{}); ok {
			if locRef, ok := getMap(loc, "location"); ok {
				if disp, ok := getString(locRef, "display"); ok {
					location = Escape(disp)
				}
			}
		}
	}

	attending := ""
	if participants, ok := getArray(encounter, "participant"); ok && len(participants) > 0 {
		if p, ok := participants[0].(map[string]interface{}); ok {
			if ind, ok := getMap(p, "individual"); ok {
				if disp, ok := getString(ind, "display"); ok {
					attending = Escape(disp)
				}
			}
		}
	}

	return fmt.Sprintf("PV1|1|%s|%s||||%s", patientClass, location, attending)
}

func composeORC(serviceRequest map[string]interface{}) string {
	orderID := ""
	if serviceRequest != nil {
		if id, ok := getString(serviceRequest, "id"); ok {
			orderID = Escape(id)
		}
	}
	return fmt.Sprintf("ORC|NW|%s||||||||%s", orderID, orderTimestamp(serviceRequest))
}

func composeOBR(coded codedValue, timestamp string) string {
	universalID := ""
	if coded.Code != "" {
		universalID = Escape(coded.Code) + "^" + Escape(coded.Display) + "^" + Escape(coded.System)
	}
	return fmt.Sprintf("OBR|1|||%s|||%s", universalID, timestamp)
}

func composeOBX(setID int, obs map[string]interface{}) string {
	valueType := "NM"

	coded := codingOf(obs)
	observationID := ""
	if coded.Code != "" {
		observationID = Escape(coded.Code) + "^" + Escape(coded.Display) + "^" + Escape(coded.System)
	}

	value, unit := "", ""
	if obs != nil {
		if vq, ok := getMap(obs, "valueQuantity"); ok {
			if v, exists := vq["value"]; exists {
				value = fmt.Sprintf("%v", v)
			}
			if u, ok := getString(vq, "unit"); ok {
				unit = u
			}
		} else if vs, ok := getString(obs, "valueString"); ok {
			valueType = "ST"
			value = Escape(vs)
		}
	}

	refRange := ""
	if obs != nil {
		if ranges, ok := getArray(obs, "referenceRange"); ok && len(ranges) > 0 {
			if rr, ok := ranges[0].(map[string]interface{}); ok {
				low, high := "", ""
				if lowObj, ok := getMap(rr, "low"); ok {
					if v, exists := lowObj["value"]; exists {
						low = fmt.Sprintf("%v", v)
					}
				}
				if highObj, ok := getMap(rr, "high"); ok {
					if v, exists := highObj["value"]; exists {
						high = fmt.Sprintf("%v", v)
					}
				}
				if low != "" || high != "" {
					refRange = low + "-" + high
				}
			}
		}
	}

	status := "F"
	if obs != nil {
		if s, ok := getString(obs, "status"); ok {
			status = resultStatusCode(s)
		}
	}

	return fmt.Sprintf("OBX|%d|%s|%s||%s|%s|%s|N|||%s",
		setID, valueType, observationID, value, unit, refRange, status)
}

func composeSCH(appointment map[string]interface{}) string {
	apptID := ""
	start := ""
	duration := ""
	if appointment != nil {
		if id, ok := getString(appointment, "id"); ok {
			apptID = Escape(id)
		}
		if s, ok := getString(appointment, "start"); ok {
			start = fhirDateTimeToHL7(s)
		}
		if m, exists := appointment["minutesDuration"]; exists {
			duration = fmt.Sprintf("%v", m)
		}
	}
	return fmt.Sprintf("SCH|%s|||||||%s|%s|MIN", apptID, start, duration)
}

func composeAddress(addr map[string]interface{}) string {
	street := ""
	if lines, ok := getArray(addr, "line"); ok && len(lines) > 0 {
		if line, ok := lines[0].(string); ok {
			street = Escape(line)
		}
	}
	city, state, zip, country := "", "", "", ""
	if c, ok := getString(addr, "city"); ok {
		city = Escape(c)
	}
	if s, ok := getString(addr, "state"); ok {
		state = Escape(s)
	}
	if z, ok := getString(addr, "postalCode"); ok {
		zip = Escape(z)
	}
	if c, ok := getString(addr, "country"); ok {
		country = Escape(c)
	}
	return fmt.Sprintf("%s^^%s^%s^%s^%s", street, city, state, zip, country)
}

// Escape substitutes the HL7 delimiter characters with their escape
// sequences:
//
//	\F\ = |  \S\ = ^  \R\ = ~  \E\ = \  \T\ = &
func Escape(s string) string {
	// Backslash first so the inserted sequences survive.
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

// codedValue is a flattened FHIR CodeableConcept coding.
type codedValue struct {
	Code    string
	Display string
	System  string
}

// codingOf extracts the first coding from the resource's "code" element.
func codingOf(resource map[string]interface{}) codedValue {
	var cv codedValue
	if resource == nil {
		return cv
	}
	codeObj, ok := getMap(resource, "code")
	if !ok {
		return cv
	}
	codings, ok := getArray(codeObj, "coding")
	if !ok || len(codings) == 0 {
		return cv
	}
	c, ok := codings[0].(map[string]interface{})
	if !ok {
		return cv
	}
	cv.Code, _ = getString(c, "code")
	cv.Display, _ = getString(c, "display")
	if s, ok := getString(c, "system"); ok {
		cv.System = codeSystemShortName(s)
	}
	return cv
}

func orderTimestamp(serviceRequest map[string]interface{}) string {
	if serviceRequest == nil {
		return ""
	}
	if authored, ok := getString(serviceRequest, "authoredOn"); ok {
		return fhirDateTimeToHL7(authored)
	}
	return ""
}

func getString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getArray(m map[string]interface{}, key string) ([]interface{}, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]interface{})
	return arr, ok
}

func getMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	nested, ok := v.(map[string]interface{})
	return nested, ok
}

// genderCode converts a FHIR administrative gender to the HL7 v2 code.
func genderCode(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	default:
		return "U"
	}
}

// patientClassCode maps a FHIR Encounter class code to the HL7 v2 patient class.
func patientClassCode(code string) string {
	switch strings.ToUpper(code) {
	case "IMP":
		return "I"
	case "AMB":
		return "O"
	case "EMER":
		return "E"
	default:
		return code
	}
}

// codeSystemShortName converts a FHIR code system URL to its HL7 v2 table name.
func codeSystemShortName(system string) string {
	switch system {
	case "http://loinc.org":
		return "LN"
	case "http://snomed.info/sct":
		return "SCT"
	case "http://www.nlm.nih.gov/research/umls/rxnorm":
		return "RXNORM"
	case "http://hl7.org/fhir/sid/icd-10-cm":
		return "I10"
	default:
		return system
	}
}

// resultStatusCode converts a FHIR observation status to the HL7 v2 result status.
func resultStatusCode(status string) string {
	switch status {
	case "final":
		return "F"
	case "preliminary":
		return "P"
	case "cancelled":
		return "X"
	case "corrected":
		return "C"
	default:
		return "F"
	}
}

func fhirDateTimeToHL7(dt string) string {
	for _, layout := range []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, dt); err == nil {
			return t.Format("20060102150405")
		}
	}
	result := strings.NewReplacer("-", "", "T", "", ":", "", "Z", "").Replace(dt)
	return result
}

package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine applies mappings to documents and runs dry-run tests. Apply is pure:
// the same (sourceDoc, mapping) pair always yields the same output.
type Engine struct {
	repo   MappingRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(repo MappingRepository, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger.With().Str("component", "mapping_engine").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs every rule against sourceDoc and returns the target document.
// Source fields absent from the document are skipped; unknown transform
// kinds pass the value through unchanged. Apply never fails on data.
func (e *Engine) Apply(sourceDoc map[string]interface{}, m *Mapping) map[string]interface{} {
	target := make(map[string]interface{})
	if sourceDoc == nil || m == nil {
		return target
	}

	// Deterministic rule order keeps repeated runs identical even when two
	// rules write the same target field.
	fields := make([]string, 0, len(m.Rules))
	for f := range m.Rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, sourceField := range fields {
		r, ok := normalizeRule(m.Rules[sourceField])
		if !ok {
			continue
		}
		value, present := sourceDoc[sourceField]
		if !present {
			continue
		}
		target[r.TargetField] = applyTransform(value, r)
	}
	return target
}

func applyTransform(value interface{}, r rule) interface{} {
	switch r.Transform {
	case TransformUppercase:
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
	case TransformLowercase:
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	case TransformDateFormat:
		if s, ok := value.(string); ok {
			if formatted, ok := reformatDate(s, r.Pattern); ok {
				return formatted
			}
		}
	}
	// identity and unknown kinds pass through.
	return value
}

// reformatDate parses a date/datetime string in common interchange layouts
// and renders it with the rule's Go reference layout.
func reformatDate(value, pattern string) (string, bool) {
	if pattern == "" {
		return "", false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"20060102150405",
		"20060102",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(pattern), true
		}
	}
	return "", false
}

// TestResult summarizes a dry run.
type TestResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Applied int                    `json:"applied"`
}

// Test dry-runs the mapping against a sample document and records
// lastTested/testResults on the mapping. No other entity is touched. An
// empty rule set is a test failure, not a crash.
func (e *Engine) Test(ctx context.Context, m *Mapping, sampleDoc map[string]interface{}) (*TestResult, error) {
	result := &TestResult{}
	if len(m.Rules) == 0 {
		result.Error = "no rules defined"
	} else {
		result.Output = e.Apply(sampleDoc, m)
		result.Applied = len(result.Output)
		result.Success = true
	}

	now := e.now()
	m.LastTested = &now
	m.TestResults = map[string]interface{}{
		"success": result.Success,
		"applied": result.Applied,
	}
	if result.Error != "" {
		m.TestResults["error"] = result.Error
	}
	if err := e.repo.RecordTest(ctx, m.ID, now, m.TestResults); err != nil {
		return nil, fmt.Errorf("record mapping test: %w", err)
	}

	e.logger.Info().
		Str("mapping", m.Name).
		Bool("success", result.Success).
		Int("applied", result.Applied).
		Msg("mapping tested")
	return result, nil
}

// Create validates and persists a new mapping.
func (e *Engine) Create(ctx context.Context, m *Mapping) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validTypes[m.MappingType] {
		return fmt.Errorf("invalid mapping type: %s", m.MappingType)
	}
	return e.repo.Create(ctx, m)
}

// Get resolves a mapping by name.
func (e *Engine) Get(ctx context.Context, name string) (*Mapping, error) {
	return e.repo.GetByName(ctx, name)
}

// GetByID resolves a mapping by its primary key.
func (e *Engine) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return e.repo.GetByID(ctx, id)
}

// List pages mappings, optionally filtered by type and active flag.
func (e *Engine) List(ctx context.Context, mappingType string, activeOnly bool, limit, offset int) ([]*Mapping, int, error) {
	return e.repo.List(ctx, mappingType, activeOnly, limit, offset)
}

// SetActive activates or deactivates a mapping.
func (e *Engine) SetActive(ctx context.Context, m *Mapping, active bool) error {
	m.IsActive = active
	return e.repo.SetActive(ctx, m.ID, active)
}

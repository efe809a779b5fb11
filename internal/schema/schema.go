// Package schema defines the per-output-kind schemas for generated results
// and validates parsed outputs against them.
//
// The schema model is deliberately small: required fields with expected JSON
// types, selected once per execution from the agent definition's output
// kind. A "presentation" field is validated against its own display schema
// independently — its failure never affects the primary outcome, and the
// field is always stripped before a value becomes a final output.
package schema

import (
	"fmt"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// FieldType is the expected JSON type of a field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
	TypeBool   FieldType = "bool"
)

// Field is one schema entry.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// OutputSchema is the full schema for one output kind.
type OutputSchema struct {
	Kind   string
	Fields []Field
}

// PresentationField is the display-model field carried alongside data
// fields. It is validated separately and stripped from final outputs.
const PresentationField = "presentation"

var presentationSchema = OutputSchema{
	Kind: "presentation",
	Fields: []Field{
		{Name: "layout", Type: TypeString, Required: true},
		{Name: "blocks", Type: TypeArray, Required: true},
	},
}

var outputSchemas = map[string]OutputSchema{
	models.OutputSiteStructure: {
		Kind: models.OutputSiteStructure,
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
			{Name: "sections", Type: TypeArray, Required: true},
			{Name: "questions", Type: TypeArray, Required: true},
			{Name: "notes", Type: TypeString, Required: false},
		},
	},
	models.OutputCreativeStructure: {
		Kind: models.OutputCreativeStructure,
		Fields: []Field{
			{Name: "summary", Type: TypeString, Required: true},
			{Name: "ideas", Type: TypeArray, Required: true},
			{Name: "design_notes", Type: TypeString, Required: true},
			{Name: "tone", Type: TypeString, Required: false},
		},
	},
}

// ForKind returns the schema for an output kind. Unknown kinds get a
// permissive empty schema so new agent kinds degrade instead of failing.
func ForKind(kind string) OutputSchema {
	if s, ok := outputSchemas[kind]; ok {
		return s
	}
	return OutputSchema{Kind: kind}
}

// Validate checks a parsed output against a schema. A nil output is a
// single-issue failure, never a panic.
func Validate(output map[string]interface{}, s OutputSchema) models.ValidationResult {
	if output == nil {
		return models.ValidationResult{
			Success: false,
			Issues:  []models.ValidationIssue{{Path: "$", Message: "output is not a JSON object"}},
		}
	}

	var issues []models.ValidationIssue
	for _, f := range s.Fields {
		v, present := output[f.Name]
		if !present || v == nil {
			if f.Required {
				issues = append(issues, models.ValidationIssue{
					Path:    "$." + f.Name,
					Message: "required field is missing",
				})
			}
			continue
		}
		if !typeMatches(v, f.Type) {
			issues = append(issues, models.ValidationIssue{
				Path:    "$." + f.Name,
				Message: fmt.Sprintf("expected %s, got %s", f.Type, jsonTypeOf(v)),
			})
		}
	}

	return models.ValidationResult{Success: len(issues) == 0, Issues: issues}
}

// ValidatePresentation validates the display model independently of the
// primary result. Absent presentation is a pass.
func ValidatePresentation(output map[string]interface{}) models.ValidationResult {
	if output == nil {
		return models.ValidationResult{Success: true}
	}
	raw, ok := output[PresentationField]
	if !ok || raw == nil {
		return models.ValidationResult{Success: true}
	}
	pres, ok := raw.(map[string]interface{})
	if !ok {
		return models.ValidationResult{
			Success: false,
			Issues:  []models.ValidationIssue{{Path: "$.presentation", Message: "presentation is not an object"}},
		}
	}
	res := Validate(pres, presentationSchema)
	for i := range res.Issues {
		res.Issues[i].Path = "$.presentation" + res.Issues[i].Path[1:]
	}
	return res
}

func typeMatches(v interface{}, t FieldType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

func jsonTypeOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

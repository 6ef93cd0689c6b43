// Package tools is the catalog of GRC tools a tenant can call through the
// gateway: built-in Archer tools, YAML definitions loaded from a directory,
// and per-tenant rows in tool_definitions.
package tools

import (
	"fmt"
	"strings"
)

type Param struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"` // string | number | boolean | object | array
	Description string `yaml:"description" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required,omitempty"`
}

type Tool struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Params      []Param  `yaml:"params" json:"params"`
	Scopes      []string `yaml:"scopes" json:"scopes,omitempty"`
	// Endpoint overrides the default tool server URL for this tool.
	Endpoint string `yaml:"endpoint" json:"-"`
}

// CheckArgs reports the first required parameter missing from args, and
// arguments whose JSON type does not match the declaration.
func (t Tool) CheckArgs(args map[string]any) error {
	for _, p := range t.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("missing required argument %q", p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return fmt.Errorf("argument %q must be of type %s", p.Name, p.Type)
		}
	}
	return nil
}

func typeMatches(typ string, v any) bool {
	switch strings.ToLower(typ) {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return true
}

// Builtins are the Archer tools every tenant gets.
func Builtins() []Tool {
	return []Tool{
		{
			Name:        "archer_list_applications",
			Description: "List the Archer applications visible to the session user",
			Scopes:      []string{"archer:read"},
		},
		{
			Name:        "archer_get_application_fields",
			Description: "Describe the fields of one Archer application",
			Params: []Param{
				{Name: "application", Type: "string", Description: "Application name or id", Required: true},
			},
			Scopes: []string{"archer:read"},
		},
		{
			Name:        "archer_search_records",
			Description: "Search records of an Archer application",
			Params: []Param{
				{Name: "application", Type: "string", Description: "Application name or id", Required: true},
				{Name: "filter", Type: "object", Description: "Field filters keyed by field name"},
				{Name: "page_size", Type: "number", Description: "Maximum records per page"},
				{Name: "page", Type: "number", Description: "1-based page number"},
			},
			Scopes: []string{"archer:read"},
		},
		{
			Name:        "archer_get_record",
			Description: "Fetch one Archer record by content id",
			Params: []Param{
				{Name: "content_id", Type: "number", Description: "Archer content id", Required: true},
			},
			Scopes: []string{"archer:read"},
		},
	}
}

// Package openapi assembles the OpenAPI document for the broker's HTTP
// surface from operations registered by each handler package.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Operation is a single HTTP operation to surface in the document.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Scopes      []string       `json:"x-required-scopes,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

// Registry collects operations and scope descriptions. Safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	ops    []Operation
	scopes map[string]string
}

func NewRegistry() *Registry { return &Registry{scopes: map[string]string{}} }

func (r *Registry) Register(ops ...Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		op.Method = strings.ToLower(op.Method)
		r.ops = append(r.ops, op)
	}
}

// DescribeScope documents an OAuth scope used by registered operations.
func (r *Registry) DescribeScope(scope, description string) {
	r.mu.Lock()
	r.scopes[scope] = description
	r.mu.Unlock()
}

// Build produces an OpenAPI 3.1 document. Scopes referenced by operations but
// never described are listed with an empty description.
func (r *Registry) Build(serviceName, version, tokenURL string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := map[string]any{}
	scopes := map[string]string{}
	for k, v := range r.scopes {
		scopes[k] = v
	}
	for _, op := range r.ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": op.Responses,
		}
		if op.Description != "" {
			m["description"] = op.Description
		}
		if params := pathParams(op.Path); len(params) > 0 {
			m["parameters"] = params
		}
		if len(op.Scopes) > 0 {
			sorted := append([]string(nil), op.Scopes...)
			sort.Strings(sorted)
			m["x-required-scopes"] = sorted
			m["security"] = []map[string]any{{"oauth": sorted}}
			for _, s := range sorted {
				if _, ok := scopes[s]; !ok {
					scopes[s] = ""
				}
			}
		}
		if op.RequestBody != nil {
			m["requestBody"] = map[string]any{
				"required": true,
				"content":  map[string]any{"application/json": map[string]any{"schema": op.RequestBody}},
			}
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	if tokenURL == "" {
		tokenURL = "/oauth/token"
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"oauth": map[string]any{
					"type": "oauth2",
					"flows": map[string]any{
						"clientCredentials": map[string]any{
							"tokenUrl": tokenURL,
							"scopes":   scopes,
						},
					},
				},
			},
		},
		"security": []map[string]any{{"oauth": []string{}}},
	}
}

// pathParams declares every {name} segment as a required string parameter.
func pathParams(path string) []map[string]any {
	var out []map[string]any
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return out
}

// ServeHandler serves the built document as JSON.
func (r *Registry) ServeHandler(serviceName, version, tokenURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version, tokenURL))
	}
}

// Response is a shorthand for a JSON response entry.
func Response(description string, schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"description": description}
	}
	return map[string]any{
		"description": description,
		"content":     map[string]any{"application/json": map[string]any{"schema": schema}},
	}
}

// Problem is the shared application/problem+json response entry.
func Problem(description string) map[string]any {
	return map[string]any{
		"description": description,
		"content":     map[string]any{"application/problem+json": map[string]any{"schema": map[string]any{"type": "object"}}},
	}
}

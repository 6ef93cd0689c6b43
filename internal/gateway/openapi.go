package gateway

import "grcbridge/pkg/openapi"

// ScopeRead is the scope the built-in Archer tools require.
const ScopeRead = "archer:read"

// Register adds the tool endpoints to reg.
func Register(reg *openapi.Registry) {
	reg.DescribeScope(ScopeRead, "Call read-only Archer tools")
	reg.Register(
		openapi.Operation{
			Method: "GET", Path: "/v1/tools", Summary: "List the tenant's tools", Tags: []string{"tools"},
			Responses: map[string]any{"200": openapi.Response("Tool catalog", map[string]any{"type": "object"})},
		},
		openapi.Operation{
			Method: "POST", Path: "/v1/tools/{name}/call", Summary: "Call a tool with a brokered Archer session",
			Description: "The tool's own scopes apply; see x-required-scopes on each catalog entry.",
			Tags:        []string{"tools"},
			RequestBody: map[string]any{
				"type":     "object",
				"required": []string{"session_id"},
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string", "format": "uuid"},
					"arguments":  map[string]any{"type": "object"},
				},
			},
			Responses: map[string]any{
				"200": openapi.Response("Tool result", map[string]any{"type": "object"}),
				"401": openapi.Problem("Session expired (refresh_required) or unknown (reauthenticate)"),
				"403": openapi.Problem("Insufficient scope"),
				"404": openapi.Problem("Unknown tool"),
				"502": openapi.Problem("Tool server failed"),
			},
		},
	)
}

package broker

import "grcbridge/pkg/openapi"

// ScopeSessions guards the session endpoints.
const ScopeSessions = "archer:sessions"

var (
	userInfoSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"username":   map[string]any{"type": "string"},
			"instanceId": map[string]any{"type": "string"},
			"baseUrl":    map[string]any{"type": "string", "format": "uri"},
		},
	}
	sessionSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sessionId":  map[string]any{"type": "string", "format": "uuid"},
			"expiresAt":  map[string]any{"type": "string", "format": "date-time"},
			"authMethod": map[string]any{"type": "string", "enum": []string{"REST", "SOAP"}},
			"userInfo":   userInfoSchema,
		},
	}
)

// Register adds the session endpoints to reg.
func Register(reg *openapi.Registry) {
	reg.DescribeScope(ScopeSessions, "Create, refresh and end Archer sessions")
	scopes := []string{ScopeSessions}
	tags := []string{"sessions"}
	reg.Register(
		openapi.Operation{
			Method: "POST", Path: "/v1/archer/sessions", Summary: "Log in to Archer (REST, then SOAP)",
			Tags: tags, Scopes: scopes,
			RequestBody: map[string]any{
				"type":     "object",
				"required": []string{"baseUrl", "username", "password", "instanceId"},
				"properties": map[string]any{
					"baseUrl":      map[string]any{"type": "string", "format": "uri"},
					"username":     map[string]any{"type": "string"},
					"password":     map[string]any{"type": "string", "format": "password", "writeOnly": true},
					"instanceId":   map[string]any{"type": "string"},
					"userDomainId": map[string]any{"type": "string"},
				},
			},
			Responses: map[string]any{
				"201": openapi.Response("Session created", sessionSchema),
				"400": openapi.Problem("Invalid parameters"),
				"401": openapi.Problem("Both protocols rejected the login"),
			},
		},
		openapi.Operation{
			Method: "GET", Path: "/v1/archer/sessions/{id}", Summary: "Check a session",
			Tags: tags, Scopes: scopes,
			Responses: map[string]any{
				"200": openapi.Response("Session is valid", sessionSchema),
				"401": openapi.Problem("Session expired; refresh_required is set"),
				"404": openapi.Problem("Unknown session"),
			},
		},
		openapi.Operation{
			Method: "POST", Path: "/v1/archer/sessions/{id}/refresh", Summary: "Re-authenticate an existing session",
			Tags: tags, Scopes: scopes,
			RequestBody: map[string]any{
				"type":       "object",
				"required":   []string{"password"},
				"properties": map[string]any{"password": map[string]any{"type": "string", "format": "password", "writeOnly": true}},
			},
			Responses: map[string]any{
				"200": openapi.Response("Session extended", sessionSchema),
				"401": openapi.Problem("Archer rejected the password"),
				"404": openapi.Problem("Unknown session"),
			},
		},
		openapi.Operation{
			Method: "DELETE", Path: "/v1/archer/sessions/{id}", Summary: "End a session",
			Tags: tags, Scopes: scopes,
			Responses: map[string]any{"204": openapi.Response("Session removed", nil)},
		},
	)
}

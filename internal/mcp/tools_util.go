// tools_util.go provides helper functions for MCP tool parameter extraction
// and result construction.
//
// Separated to centralise the boilerplate of extracting typed parameters from
// MCP's generic argument map. Optional parameters fall back to defaults;
// required ones fail with ErrInvalidArgument so the caller learns which
// field to fix.
//
// Design: Every result carries two text blocks: a one-line summary a person
// can read, then the structured data as indented JSON. Errors follow the
// same shape with {code, message} as the data, so clients parse one format.

package mcp

import (
	"fmt"
	"math"
	"strings"

	"github.com/jpl-au/collab/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// args returns the request's argument map, or an empty one.
func args(req mcp.CallToolRequest) map[string]any {
	if m, ok := req.Params.Arguments.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// getString extracts a string parameter, returning def if it is missing or
// not a string.
func getString(req mcp.CallToolRequest, name, def string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return def
}

// requireString extracts a non-blank string parameter.
func requireString(req mcp.CallToolRequest, name string) (string, error) {
	v, err := req.RequireString(name)
	if err != nil || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	return v, nil
}

// getBool extracts a boolean parameter. JSON booleans decode as Go bool
// values, so a type assertion suffices.
func getBool(req mcp.CallToolRequest, name string, def bool) bool {
	if v, ok := args(req)[name].(bool); ok {
		return v
	}
	return def
}

// getInt extracts an integer parameter. JSON numbers decode as float64.
func getInt(req mcp.CallToolRequest, name string, def int) int {
	if n, ok := toInt(args(req)[name]); ok {
		return n
	}
	return def
}

// getIntPtr is getInt for parameters whose absence means something.
func getIntPtr(req mcp.CallToolRequest, name string) *int {
	if n, ok := toInt(args(req)[name]); ok {
		return &n
	}
	return nil
}

// getStrings extracts a string array parameter. Non-string elements are
// skipped. Returns nil when the parameter is absent.
func getStrings(req mcp.CallToolRequest, name string) []string {
	arr, ok := args(req)[name].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// getObjects extracts an array of objects. Any element that is not an
// object is an error: silently dropping an operation would misreport the
// batch.
func getObjects(req mcp.CallToolRequest, name string) ([]map[string]any, error) {
	raw, ok := args(req)[name]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidArgument, name)
	}
	out := make([]map[string]any, 0, len(arr))
	for i, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrInvalidArgument, name, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// getMap extracts an object parameter, or nil.
func getMap(req mcp.CallToolRequest, name string) map[string]any {
	m, _ := args(req)[name].(map[string]any)
	return m
}

// field reads an integer field of an object argument.
func field(m map[string]any, name string, def int) int {
	if n, ok := toInt(m[name]); ok {
		return n
	}
	return def
}

// fieldPtr reads an optional integer field of an object argument.
func fieldPtr(m map[string]any, name string) *int {
	if n, ok := toInt(m[name]); ok {
		return &n
	}
	return nil
}

// fieldString reads a string field of an object argument.
func fieldString(m map[string]any, name, def string) string {
	if s, ok := m[name].(string); ok {
		return s
	}
	return def
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// clamp bounds n to [1, limit], using def when n is not positive.
func clamp(n, def, limit int) int {
	if n <= 0 {
		n = def
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// reply is what a tool handler returns on success.
type reply struct {
	summary string
	data    any
	version string         // version id for the audit log, if the call committed one
	audit   map[string]any // extra audit log detail
}

func replyf(data any, format string, a ...any) reply {
	return reply{summary: fmt.Sprintf(format, a...), data: data}
}

// result serialises a reply as summary text followed by pretty JSON.
//
// We use store.MarshalJSON (indented) rather than compact JSON because
// clients parse structured output more reliably when it is formatted.
func (r reply) result() *mcp.CallToolResult {
	data, err := store.MarshalJSON(r.data)
	if err != nil {
		return errorResult(CodeInternal, fmt.Errorf("encode result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(r.summary),
			mcp.NewTextContent(string(data)),
		},
	}
}

// errorPayload is the data block of an error result.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// errorResult builds a tool error carrying code.
func errorResult(code string, err error) *mcp.CallToolResult {
	return errorResultWith(code, err, nil)
}

func errorResultWith(code string, err error, details any) *mcp.CallToolResult {
	data, merr := store.MarshalJSON(errorPayload{Code: code, Message: err.Error(), Details: details})
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"code": %q}`, code))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(code + ": " + err.Error()),
			mcp.NewTextContent(string(data)),
		},
		IsError: true,
	}
}

// Tools module - tool invocation framework
package tools

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Tool defines the tool interface
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(args map[string]interface{}) (interface{}, error)
}

// ToolsPolicy holds tool allow/deny policy
type ToolsPolicy struct {
	Profile string   // "minimal", "research", "full"
	Allow   []string // Tool names or groups to allow
	Deny    []string // Tool names or groups to deny
}

// Registry holds registered tools
type Registry struct {
	tools  map[string]Tool
	policy *ToolsPolicy
}

// Tool groups
var ToolGroups = map[string][]string{
	"group:web":    {"web_search", "web_fetch"},
	"group:kb":     {"kb_search"},
	"group:memory": {"memory_recall"},
	"group:notes":  {"note_save", "note_update", "note_search"},
	"group:time":   {"current_time"},
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		policy: DefaultToolsPolicy(),
	}
}

// NewRegistryWithPolicy creates a registry with custom policy
func NewRegistryWithPolicy(policy *ToolsPolicy) *Registry {
	if policy == nil {
		policy = DefaultToolsPolicy()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		policy: policy,
	}
}

// DefaultToolsPolicy returns default policy (full access)
func DefaultToolsPolicy() *ToolsPolicy {
	return &ToolsPolicy{
		Profile: "full",
		Allow:   nil, // nil means all
		Deny:    nil,
	}
}

// SetPolicy updates the tools policy
func (r *Registry) SetPolicy(policy *ToolsPolicy) {
	r.policy = policy
}

// policyEntryMatches reports whether a policy entry covers a tool.
// Entries may be "*", a tool name, or a group like "group:web".
func policyEntryMatches(entry, name string) bool {
	if entry == "*" || entry == name {
		return true
	}
	if strings.HasPrefix(entry, "group:") {
		for _, member := range ToolGroups[entry] {
			if member == name {
				return true
			}
		}
	}
	return false
}

// IsToolAllowed checks a tool name against a policy. Deny wins over
// allow; a nil policy or empty allow list permits everything not denied.
func IsToolAllowed(policy *ToolsPolicy, name string) bool {
	if policy == nil {
		return true
	}
	for _, entry := range policy.Deny {
		if policyEntryMatches(entry, name) {
			return false
		}
	}
	if len(policy.Allow) == 0 {
		return true
	}
	for _, entry := range policy.Allow {
		if policyEntryMatches(entry, name) {
			return true
		}
	}
	return false
}

// IsToolAllowed checks if a tool is allowed by the registry policy
func (r *Registry) IsToolAllowed(toolName string) bool {
	return IsToolAllowed(r.policy, toolName)
}

// GetAllowedTools returns list of tools filtered by policy
func (r *Registry) GetAllowedTools() []string {
	var allowed []string
	for name := range r.tools {
		if r.IsToolAllowed(name) {
			allowed = append(allowed, name)
		}
	}
	return allowed
}

// Register a tool
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
	log.Printf("[OK] tool registered: %s", t.Name())
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List all tools
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// CallTool and return its result. Unknown tool names are refused, not
// silently dropped, so the model sees its mistake in the next turn.
func (r *Registry) CallTool(name string, args map[string]interface{}) (interface{}, error) {
	// Check policy first
	if !r.IsToolAllowed(name) {
		return nil, fmt.Errorf("tool not allowed by policy: %s", name)
	}

	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	log.Printf("[TOOL] calling tool: %s, args: %v", name, args)
	result, err := t.Execute(args)
	if err != nil {
		log.Printf("[ERROR] tool failed: %s - %v", name, err)
		return nil, err
	}

	log.Printf("[OK] tool succeeded: %s", name)
	return result, nil
}

// GetToolSpecs returns OpenAI-format specs with function wrapper (filtered by policy)
func (r *Registry) GetToolSpecs() []map[string]interface{} {
	specs := make([]map[string]interface{}, 0)
	for _, t := range r.tools {
		// Only include tools allowed by policy
		if !r.IsToolAllowed(t.Name()) {
			continue
		}
		specs = append(specs, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return specs
}

// FormatToolResult formats tool result as a message
func FormatToolResult(toolName string, result interface{}) map[string]interface{} {
	var content string
	switch v := result.(type) {
	case string:
		content = v
	case []byte:
		content = string(v)
	default:
		b, _ := json.Marshal(v)
		content = string(b)
	}

	return map[string]interface{}{
		"role":         "tool",
		"tool_call_id": fmt.Sprintf("call_%s", toolName),
		"content":      content,
	}
}

// ErrorResult returns an error payload
func ErrorResult(toolName string, err error) map[string]interface{} {
	return map[string]interface{}{
		"role":         "tool",
		"tool_call_id": fmt.Sprintf("call_%s", toolName),
		"content":      fmt.Sprintf("error: %v", err),
	}
}

// ParseArgs parses JSON args
func ParseArgs(argsJSON string) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		// Try as array
		var arr []interface{}
		if jerr := json.Unmarshal([]byte(argsJSON), &arr); jerr == nil {
			return map[string]interface{}{"args": arr}, nil
		}
		return nil, fmt.Errorf("failed to parse args: %v", err)
	}
	return args, nil
}

// GetString gets a string arg
func GetString(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt gets an int arg
func GetInt(args map[string]interface{}, key string) int {
	if v, ok := args[key]; ok {
		switch f := v.(type) {
		case float64:
			return int(f)
		case int:
			return f
		case string:
			var i int
			fmt.Sscanf(f, "%d", &i)
			return i
		}
	}
	return 0
}

// GetFloat64 gets a float arg
func GetFloat64(args map[string]interface{}, key string) float64 {
	if v, ok := args[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int:
			return float64(f)
		case string:
			var x float64
			fmt.Sscanf(f, "%f", &x)
			return x
		}
	}
	return 0
}

// GetBool gets a bool arg
func GetBool(args map[string]interface{}, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Truncate long text
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...\n(content truncated)"
}

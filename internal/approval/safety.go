// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package approval

import "strings"

// SafetyLevel classifies how dangerous a tool invocation is.
type SafetyLevel string

const (
	// SafetySafe marks read-only tools with no side effects.
	SafetySafe SafetyLevel = "safe"

	// SafetySensitive marks tools that write or mutate state.
	SafetySensitive SafetyLevel = "sensitive"

	// SafetyCritical marks irreversible or high-impact tools.
	SafetyCritical SafetyLevel = "critical"
)

// ParseSafetyLevel validates a configured level string.
func ParseSafetyLevel(s string) (SafetyLevel, bool) {
	switch SafetyLevel(strings.ToLower(s)) {
	case SafetySafe:
		return SafetySafe, true
	case SafetySensitive:
		return SafetySensitive, true
	case SafetyCritical:
		return SafetyCritical, true
	}
	return "", false
}

// Name patterns checked during classification. Critical patterns are checked
// first so destructive verbs win over weaker matches in the same name.
var (
	safePatterns = []string{
		"get_", "list_", "read_", "search_", "find_",
		"describe_", "show_", "view_", "fetch_", "count_",
		"check_", "status_", "info_", "stat_", "head_",
	}
	sensitivePatterns = []string{
		"write_", "create_", "update_", "edit_", "modify_",
		"add_", "set_", "put_", "post_", "upload_",
		"push_", "commit_", "merge_", "send_",
	}
	criticalPatterns = []string{
		"delete_", "remove_", "destroy_", "drop_", "purge_",
		"force_", "reset_", "revoke_", "terminate_", "kill_",
	}
)

// toolOverrides pins well-known tools to a fixed level regardless of what
// their name patterns would suggest.
var toolOverrides = map[string]SafetyLevel{
	// GitHub
	"get_file_contents":   SafetySafe,
	"list_repos":          SafetySafe,
	"search_code":         SafetySafe,
	"create_issue":        SafetySensitive,
	"create_pull_request": SafetySensitive,
	"push_files":          SafetySensitive,
	"delete_repo":         SafetyCritical,
	"delete_branch":       SafetyCritical,
	// Filesystem
	"read_file":      SafetySafe,
	"list_directory": SafetySafe,
	"write_file":     SafetySensitive,
	"delete_file":    SafetyCritical,
	// Slack
	"list_channels":  SafetySafe,
	"send_message":   SafetySensitive,
	"delete_message": SafetyCritical,
}

// Classifier assigns a safety level to tool invocations.
type Classifier struct {
	custom map[string]SafetyLevel
}

// NewClassifier builds a classifier with deployment-specific overrides.
// Invalid levels in the overrides map are ignored.
func NewClassifier(overrides map[string]string) *Classifier {
	c := &Classifier{custom: make(map[string]SafetyLevel)}
	for tool, level := range overrides {
		if lv, ok := ParseSafetyLevel(level); ok {
			c.custom[tool] = lv
		}
	}
	return c
}

// Classify determines the safety level of a tool.
//
// Priority order:
//  1. Deployment overrides, by "server_tool" full name then bare tool name.
//  2. The static well-known tool table.
//  3. Name pattern matching, critical before sensitive before safe.
//  4. Default to sensitive. Unknown tools are never auto-trusted.
func (c *Classifier) Classify(toolName, serverName string) SafetyLevel {
	if serverName != "" {
		if lv, ok := c.custom[serverName+"_"+toolName]; ok {
			return lv
		}
	}
	if lv, ok := c.custom[toolName]; ok {
		return lv
	}

	if lv, ok := toolOverrides[toolName]; ok {
		return lv
	}

	lower := strings.ToLower(toolName)
	for _, p := range criticalPatterns {
		if strings.HasPrefix(lower, p) || strings.Contains(lower, p) {
			return SafetyCritical
		}
	}
	for _, p := range sensitivePatterns {
		if strings.HasPrefix(lower, p) || strings.Contains(lower, p) {
			return SafetySensitive
		}
	}
	for _, p := range safePatterns {
		if strings.HasPrefix(lower, p) || strings.Contains(lower, p) {
			return SafetySafe
		}
	}

	return SafetySensitive
}

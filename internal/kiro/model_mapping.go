package kiro

import (
	"strings"
)

// ModelMappingRule maps an inbound model name pattern to an upstream model
// id. Rules are matched in order; first match wins. Patterns support the *
// wildcard.
type ModelMappingRule struct {
	Pattern string `json:"pattern"`
	Target  string `json:"target"`
}

// Upstream model ids accepted by the conversational endpoints.
const (
	ModelSonnet = "CLAUDE_SONNET_4_5_20250929_V1_0"
	ModelOpus   = "CLAUDE_OPUS_4_5_V1_0"
	ModelHaiku  = "CLAUDE_HAIKU_4_5_V1_0"
)

// defaultModelMappingRules resolves inbound Anthropic model names by
// substring. Anything that matches none of the families falls back to
// sonnet.
var defaultModelMappingRules = []ModelMappingRule{
	{"*opus*", ModelOpus},
	{"*haiku*", ModelHaiku},
	{"*sonnet*", ModelSonnet},
}

// MapModel resolves an inbound model name to the upstream model id. A custom
// rule set, when provided, takes precedence over the defaults. Unmatched
// names default to sonnet.
func MapModel(model string, custom []ModelMappingRule) string {
	clean := strings.TrimSpace(strings.ToLower(model))

	if mapped := matchRulesInOrder(clean, custom); mapped != "" {
		return mapped
	}
	if mapped := matchRulesInOrder(clean, defaultModelMappingRules); mapped != "" {
		return mapped
	}
	return ModelSonnet
}

func matchRulesInOrder(input string, rules []ModelMappingRule) string {
	for _, rule := range rules {
		if matchPattern(input, rule.Pattern) {
			return rule.Target
		}
	}
	return ""
}

// matchPattern matches input against pattern, supporting a * wildcard in
// leading, trailing or both positions, or a single interior one.
func matchPattern(input, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if !strings.Contains(pattern, "*") {
		return input == pattern
	}

	parts := strings.Split(pattern, "*")
	switch {
	case len(parts) == 3 && parts[0] == "" && parts[2] == "":
		return strings.Contains(input, parts[1])
	case len(parts) == 2 && parts[1] == "":
		return strings.HasPrefix(input, parts[0])
	case len(parts) == 2 && parts[0] == "":
		return strings.HasSuffix(input, parts[1])
	case len(parts) == 2:
		return strings.HasPrefix(input, parts[0]) && strings.HasSuffix(input, parts[1])
	}
	return false
}
